package lazycord

import (
	"errors"
	"sync"
	"testing"
)

type recordedFrame struct {
	kind FrameKind
	body string
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []recordedFrame
}

func (r *frameRecorder) handle(kind FrameKind, f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, recordedFrame{kind, string(f.Body)})
	r.mu.Unlock()
}

func (r *frameRecorder) all() []recordedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedFrame(nil), r.frames...)
}

func newTestRegistry(t *testing.T) (*SubscriptionRegistry, *EventLoop, *frameRecorder) {
	t.Helper()
	loop := startLoop(t)
	rec := &frameRecorder{}
	return NewSubscriptionRegistry(Topics{}, loop, rec.handle, nil), loop, rec
}

func TestSubscriptionRegistryChannel(t *testing.T) {
	t.Run("requires a connection", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		if err := r.SubscribeChannel("A"); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("SubscribeChannel = %v, want ErrNotConnected", err)
		}
		if r.ChannelID() != "" {
			t.Fatal("channel remembered without a subscription")
		}
	})

	t.Run("switch unsubscribes previous first", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		conn := newFakeConn()
		r.Attach(conn)

		if err := r.SubscribeChannel("A"); err != nil {
			t.Fatalf("subscribe A: %v", err)
		}
		if err := r.SubscribeChannel("A"); err != nil {
			t.Fatalf("resubscribe A: %v", err)
		}
		if err := r.SubscribeChannel("B"); err != nil {
			t.Fatalf("subscribe B: %v", err)
		}

		want := []string{"sub:/topic/channel/A", "unsub:/topic/channel/A", "sub:/topic/channel/B"}
		if got := conn.eventLog(); !equalStrings(got, want) {
			t.Fatalf("events = %v, want %v", got, want)
		}
		if r.ChannelID() != "B" {
			t.Fatalf("channel = %q, want B", r.ChannelID())
		}
	})

	t.Run("failed subscribe restores previous", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		conn := newFakeConn()
		conn.failTopics["/topic/channel/B"] = errors.New("denied")
		r.Attach(conn)

		r.SubscribeChannel("A")
		if err := r.SubscribeChannel("B"); err == nil {
			t.Fatal("expected subscribe B to fail")
		}
		if r.ChannelID() != "A" {
			t.Fatalf("channel = %q, want A", r.ChannelID())
		}
		if n := conn.countEvent("sub:/topic/channel/A"); n != 2 {
			t.Fatalf("A subscribed %d times, want 2", n)
		}
	})

	t.Run("frames after unsubscribe are dropped", func(t *testing.T) {
		r, loop, rec := newTestRegistry(t)
		conn := newFakeConn()
		r.Attach(conn)
		r.SubscribeChannel("A")

		conn.mu.Lock()
		deliverA := conn.subs["/topic/channel/A"]
		conn.mu.Unlock()

		conn.push("/topic/channel/A", "delivered")
		flush(t, loop)

		r.SubscribeChannel("B")
		deliverA(Frame{Topic: "/topic/channel/A", Body: []byte("late")})
		conn.push("/topic/channel/B", "second")
		flush(t, loop)

		got := rec.all()
		if len(got) != 2 || got[0].body != "delivered" || got[1].body != "second" {
			t.Fatalf("frames = %+v", got)
		}
	})

	t.Run("frames queued before a switch are dropped", func(t *testing.T) {
		r, loop, rec := newTestRegistry(t)
		conn := newFakeConn()
		r.Attach(conn)
		r.SubscribeChannel("A")

		// Hold the loop so the frame for A is still queued when B is selected.
		release := make(chan struct{})
		loop.Post(func() { <-release })
		conn.push("/topic/channel/A", "queued")
		r.SubscribeChannel("B")
		conn.push("/topic/channel/B", "second")
		close(release)
		flush(t, loop)

		got := rec.all()
		if len(got) != 1 || got[0].body != "second" {
			t.Fatalf("frames = %+v", got)
		}
	})
}

func TestSubscriptionRegistryNotifications(t *testing.T) {
	r, loop, rec := newTestRegistry(t)
	conn := newFakeConn()
	r.Attach(conn)

	if err := r.SubscribeNotifications("u1"); err != nil {
		t.Fatalf("SubscribeNotifications: %v", err)
	}
	r.SubscribeNotifications("u1")
	r.SubscribeChannel("A")
	r.SubscribeChannel("B")

	if n := conn.countEvent("sub:/user/queue/notifications"); n != 1 {
		t.Fatalf("notification topic subscribed %d times, want 1", n)
	}
	if n := conn.countEvent("unsub:/user/queue/notifications"); n != 0 {
		t.Fatal("channel switch dropped the notification subscription")
	}

	conn.push("/user/queue/notifications", `{"id":"n1"}`)
	conn.push("/user/queue/notifications/count", `{"count":1}`)
	flush(t, loop)

	got := rec.all()
	if len(got) != 2 || got[0].kind != FrameNotification || got[1].kind != FrameUnreadCount {
		t.Fatalf("frames = %+v", got)
	}
}

func TestSubscriptionRegistryNotificationsPartialFailure(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	conn := newFakeConn()
	conn.failTopics["/user/queue/notifications/count"] = errors.New("denied")
	r.Attach(conn)

	if err := r.SubscribeNotifications("u1"); err == nil {
		t.Fatal("expected the count subscription to fail")
	}
	if n := conn.countEvent("unsub:/user/queue/notifications"); n != 1 {
		t.Fatalf("half-made notification subscription kept: %v", conn.eventLog())
	}

	conn.mu.Lock()
	delete(conn.failTopics, "/user/queue/notifications/count")
	conn.mu.Unlock()

	if err := r.SubscribeNotifications("u1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := conn.countEvent("sub:/user/queue/notifications/count"); n != 1 {
		t.Fatalf("count topic subscribed %d times, want 1", n)
	}
	if n := conn.countEvent("sub:/user/queue/notifications"); n != 2 {
		t.Fatalf("notification topic subscribed %d times, want 2", n)
	}
}

func TestSubscriptionRegistryReattach(t *testing.T) {
	r, loop, rec := newTestRegistry(t)
	first := newFakeConn()
	r.Attach(first)
	r.SubscribeChannel("A")
	r.SubscribeNotifications("u1")

	first.mu.Lock()
	stale := first.subs["/topic/channel/A"]
	first.mu.Unlock()

	r.Detach()
	if len(first.eventLog()) != 3 {
		t.Fatalf("Detach talked to the dead connection: %v", first.eventLog())
	}
	if err := r.SubscribeChannel("B"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SubscribeChannel while detached = %v, want ErrNotConnected", err)
	}

	second := newFakeConn()
	r.Attach(second)
	r.SubscribeNotifications("u1")

	want := []string{"sub:/topic/channel/A", "sub:/user/queue/notifications", "sub:/user/queue/notifications/count"}
	if got := second.eventLog(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	stale(Frame{Body: []byte("from dead connection")})
	second.push("/topic/channel/A", "fresh")
	flush(t, loop)
	if got := rec.all(); len(got) != 1 || got[0].body != "fresh" {
		t.Fatalf("frames = %+v", got)
	}
}
