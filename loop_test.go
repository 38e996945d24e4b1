package lazycord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventLoop(t *testing.T) {
	t.Run("runs posted functions in order", func(t *testing.T) {
		loop := startLoop(t)
		var got []int
		for i := 0; i < 50; i++ {
			i := i
			if err := loop.Post(func() { got = append(got, i) }); err != nil {
				t.Fatalf("Post: %v", err)
			}
		}
		flush(t, loop)
		if len(got) != 50 {
			t.Fatalf("ran %d functions, want 50", len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("got[%d] = %d, out of order", i, v)
			}
		}
	})

	t.Run("survives a panicking task", func(t *testing.T) {
		loop := startLoop(t)
		loop.Post(func() { panic("boom") })
		ran := false
		onLoop(t, loop, func() { ran = true })
		if !ran {
			t.Fatal("task after panic did not run")
		}
	})

	t.Run("Do honours context", func(t *testing.T) {
		loop := startLoop(t)
		release := make(chan struct{})
		loop.Post(func() { <-release })
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := loop.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Do = %v, want deadline exceeded", err)
		}
	})

	t.Run("post after stop", func(t *testing.T) {
		loop := NewEventLoop(1, nil)
		loop.Start()
		loop.Stop()
		if err := loop.Post(func() {}); !errors.Is(err, ErrLoopStopped) {
			t.Fatalf("Post = %v, want ErrLoopStopped", err)
		}
		if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
			t.Fatalf("Do = %v, want ErrLoopStopped", err)
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		loop := NewEventLoop(0, nil)
		finished := make(chan struct{})
		go func() {
			loop.Stop()
			loop.Stop()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("Stop blocked on a loop that never started")
		}
	})
}

func TestObservers(t *testing.T) {
	var o observers[int]
	var got []int
	cancel := o.add(func(v int) { got = append(got, v) })
	o.add(func(int) { panic("bad observer") })

	o.emit(nil, 1)
	cancel()
	o.emit(nil, 2)

	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("got %v, want [1]", got)
	}
}
