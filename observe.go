package lazycord

import (
	"log/slog"
	"sync"
)

// observers is a small listener list. Callbacks run synchronously on the
// caller's goroutine (the event loop for store changes) and a panicking
// callback does not stop the others.
type observers[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers[T]) emit(log *slog.Logger, v T) {
	o.mu.RLock()
	handlers := make([]func(T), 0, len(o.fns))
	for _, fn := range o.fns {
		handlers = append(handlers, fn)
	}
	o.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil && log != nil {
					log.Warn("observer panicked", "panic", r)
				}
			}()
			h(v)
		}()
	}
}
