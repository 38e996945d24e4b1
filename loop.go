package lazycord

import (
	"context"
	"log/slog"
	"sync"
)

// EventLoop runs posted functions one at a time on a single goroutine. Every
// store mutation happens here, so stores never see two writers at once.
type EventLoop struct {
	tasks chan func()
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
	start sync.Once
	log   *slog.Logger
}

// NewEventLoop creates a loop with the given queue capacity.
func NewEventLoop(capacity int, log *slog.Logger) *EventLoop {
	if capacity <= 0 {
		capacity = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventLoop{
		tasks: make(chan func(), capacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Start launches the loop goroutine. Calling it more than once is harmless.
func (l *EventLoop) Start() {
	l.start.Do(func() { go l.run() })
}

func (l *EventLoop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *EventLoop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Post schedules fn. Functions posted from one goroutine run in post order.
// It blocks only while the queue is full.
func (l *EventLoop) Post(fn func()) error {
	select {
	case <-l.stop:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stop:
		return ErrLoopStopped
	}
}

// Do posts fn and waits for it to finish.
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the loop. Queued functions that have not started are dropped.
func (l *EventLoop) Stop() {
	l.once.Do(func() { close(l.stop) })
	l.start.Do(func() { close(l.done) })
	<-l.done
}
