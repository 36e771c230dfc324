// Package journal persists classified events and dispatch outcomes. It observes
// the core from the outside: writes happen on a background goroutine so storage
// latency never reaches the classification path.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/listener"
	"solana-volume-guard/internal/observability"
	"solana-volume-guard/internal/storage"
)

// ErrBufferFull is returned by OnEvent when the write buffer is full. The
// event is not journaled.
var ErrBufferFull = errors.New("journal buffer full")

// Journal defaults.
const (
	DefaultBufferSize   = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// Options contains configuration for creating a Journal.
type Options struct {
	Events       storage.EventStore   // nil disables event journaling
	Triggers     storage.TriggerStore // nil disables outcome journaling
	BufferSize   int                  // Default: 1024
	WriteTimeout time.Duration        // Default: 5s, per write
	Logger       *zap.Logger
}

// Journal is a listener.Listener for classified events and an
// aggregation.OutcomeRecorder for dispatch outcomes.
type Journal struct {
	events   storage.EventStore
	triggers storage.TriggerStore
	timeout  time.Duration
	logger   *zap.Logger

	queue chan domain.ClassifiedEvent
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

var _ listener.Listener = (*Journal)(nil)

// New creates a journal and starts its writer.
func New(opts Options) *Journal {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		events:   opts.Events,
		triggers: opts.Triggers,
		timeout:  timeout,
		logger:   logger.Named("journal"),
		queue:    make(chan domain.ClassifiedEvent, size),
		done:     make(chan struct{}),
	}

	j.wg.Add(1)
	go j.run()
	return j
}

// OnEvent queues ev for writing. It never blocks.
func (j *Journal) OnEvent(_ context.Context, ev domain.ClassifiedEvent) error {
	if j.events == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	default:
	}
	select {
	case j.queue <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// RecordTrigger writes a dispatch outcome synchronously; the dispatcher calls
// it from its own worker.
func (j *Journal) RecordTrigger(ctx context.Context, rec domain.TriggerRecord) error {
	if j.triggers == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err := j.triggers.Insert(ctx, &rec)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

// Close stops accepting events and waits until queued events are written.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
}

func (j *Journal) run() {
	defer j.wg.Done()
	for {
		select {
		case ev := <-j.queue:
			j.write(ev)
		case <-j.done:
			// Drain what was queued before Close.
			for {
				select {
				case ev := <-j.queue:
					j.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(ev domain.ClassifiedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	err := j.events.Insert(ctx, &ev)
	switch {
	case err == nil, errors.Is(err, storage.ErrDuplicateKey):
	default:
		observability.RecordListenerFailure("journal")
		j.logger.Warn("journal write failed", zap.String("signature", ev.Signature), zap.Error(err))
	}
}
