package registry

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry fans values out to independently subscribed handlers.
//
// Notification iterates over a snapshot of the current handler set, so a
// handler may unsubscribe itself (or any other handler) mid-notification
// without corrupting the set. A handler that panics is recovered and logged;
// the remaining handlers still run.
type Registry[T any] struct {
	logger zerolog.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)
}

// New constructs an empty registry.
func New[T any](logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		logger:   logger.With().Str("component", "registry").Logger(),
		handlers: make(map[uint64]func(T)),
	}
}

// Subscribe registers a handler and returns its unsubscribe func. The
// returned func may be called any number of times; calls after the first
// have no effect.
func (r *Registry[T]) Subscribe(handler func(T)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

// Notify invokes every currently subscribed handler with v.
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	snapshot := make([]func(T), 0, len(r.handlers))
	for _, h := range r.handlers {
		snapshot = append(snapshot, h)
	}
	r.mu.Unlock()

	for _, h := range snapshot {
		r.invoke(h, v)
	}
}

func (r *Registry[T]) invoke(h func(T), v T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("subscriber panicked; continuing with remaining handlers")
		}
	}()
	h(v)
}

// Len reports the number of active subscribers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}
