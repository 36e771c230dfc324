package listener

import (
	"context"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/observability"
)

// Metrics returns a listener that counts events by side and wallet ownership.
func Metrics() Listener {
	return ListenerFunc(func(_ context.Context, ev domain.ClassifiedEvent) error {
		observability.RecordClassified(string(ev.Side), ev.IsInternal, ev.ObservedAt.Unix())
		return nil
	})
}
