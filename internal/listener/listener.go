// Package listener fans classified events out to registered observers.
package listener

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/observability"
)

// Listener observes classified events.
type Listener interface {
	OnEvent(ctx context.Context, ev domain.ClassifiedEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev domain.ClassifiedEvent) error

// OnEvent calls f.
func (f ListenerFunc) OnEvent(ctx context.Context, ev domain.ClassifiedEvent) error {
	return f(ctx, ev)
}

type entry struct {
	name     string
	listener Listener
}

// Hub invokes every registered listener in registration order. A listener's
// error or panic is logged and counted; the remaining listeners still run.
type Hub struct {
	mu        sync.RWMutex
	listeners []entry
	logger    *zap.Logger
}

// NewHub creates an empty hub. A nil logger disables logging.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger.Named("listener")}
}

// Register adds l under name.
func (h *Hub) Register(name string, l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, entry{name: name, listener: l})
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Emit delivers ev to every listener synchronously and returns the number of
// listeners that failed.
func (h *Hub) Emit(ctx context.Context, ev domain.ClassifiedEvent) int {
	h.mu.RLock()
	listeners := make([]entry, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	failed := 0
	for _, e := range listeners {
		if err := h.invoke(ctx, e, ev); err != nil {
			failed++
			observability.RecordListenerFailure(e.name)
			h.logger.Warn("listener failed",
				zap.String("listener", e.name),
				zap.String("signature", ev.Signature),
				zap.Error(err),
			)
		}
	}
	return failed
}

func (h *Hub) invoke(ctx context.Context, e entry, ev domain.ClassifiedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.listener.OnEvent(ctx, ev)
}
