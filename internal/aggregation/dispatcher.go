package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/observability"
)

// Dispatcher errors.
var (
	// ErrQueueFull is returned when the dispatch queue cannot take another request.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Dispatcher defaults.
const (
	DefaultQueueSize       = 8
	DefaultDispatchTimeout = 2 * time.Minute
)

// Liquidator performs the actual sell. It returns the action's completion code;
// zero means success.
type Liquidator interface {
	Liquidate(ctx context.Context, mint string, urgency domain.Urgency) (int, error)
}

// LiquidatorFunc adapts a function to Liquidator.
type LiquidatorFunc func(ctx context.Context, mint string, urgency domain.Urgency) (int, error)

// Liquidate calls f.
func (f LiquidatorFunc) Liquidate(ctx context.Context, mint string, urgency domain.Urgency) (int, error) {
	return f(ctx, mint, urgency)
}

// OutcomeRecorder receives every finished dispatch.
type OutcomeRecorder interface {
	RecordTrigger(ctx context.Context, rec domain.TriggerRecord) error
}

// DispatchRequest is one breach waiting to be dispatched.
type DispatchRequest struct {
	TriggerID   string
	Mint        string
	Urgency     domain.Urgency
	Volume      decimal.Decimal
	Threshold   decimal.Decimal
	WindowStart time.Time
	BreachedAt  time.Time
	EventCount  int
}

// DispatcherOptions contains configuration for creating a Dispatcher.
type DispatcherOptions struct {
	Liquidator   Liquidator
	SimulateOnly bool
	QueueSize    int           // Default: 8
	Timeout      time.Duration // Default: 2m, per liquidation call
	Recorder     OutcomeRecorder
	Logger       *zap.Logger
}

// Dispatcher invokes the liquidator from a single worker goroutine fed by a queue,
// so breaches never wait for the liquidation to finish.
type Dispatcher struct {
	liquidator   Liquidator
	simulateOnly bool
	timeout      time.Duration
	recorder     OutcomeRecorder
	logger       *zap.Logger

	queue  chan DispatchRequest
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	// Outcomes of requests dropped at the queue are recorded off the caller's goroutine.
	asyncMu     sync.Mutex
	asyncClosed bool
	asyncWG     sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		liquidator:   opts.Liquidator,
		simulateOnly: opts.SimulateOnly,
		timeout:      timeout,
		recorder:     opts.Recorder,
		logger:       logger.Named("dispatcher"),
		queue:        make(chan DispatchRequest, queueSize),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Dispatch enqueues req without blocking.
func (d *Dispatcher) Dispatch(req DispatchRequest) error {
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}

	select {
	case d.queue <- req:
		return nil
	default:
		rec := d.outcome(req, domain.OutcomeDropped, -1, ErrQueueFull)
		d.recordAsync(rec)
		return ErrQueueFull
	}
}

// Close stops accepting requests, cancels a running liquidation and waits for the
// worker and any pending outcome writes.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		d.cancel()
	})
	d.wg.Wait()

	d.asyncMu.Lock()
	d.asyncClosed = true
	d.asyncMu.Unlock()
	d.asyncWG.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case req := <-d.queue:
			d.handle(req)
		}
	}
}

// handle runs one dispatch. Simulated and real dispatches log the same lines.
func (d *Dispatcher) handle(req DispatchRequest) {
	d.logger.Info("dispatching liquidation",
		zap.String("event", "dispatch"),
		zap.String("trigger_id", req.TriggerID),
		zap.String("mint", req.Mint),
		zap.String("urgency", string(req.Urgency)),
		zap.Bool("simulate", d.simulateOnly),
	)

	if d.simulateOnly {
		d.finish(req, domain.OutcomeSimulated, 0, nil)
		return
	}

	if d.liquidator == nil {
		d.finish(req, domain.OutcomeFailed, -1, errors.New("no liquidator configured"))
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	code, err := d.liquidator.Liquidate(ctx, req.Mint, req.Urgency)
	cancel()

	if err == nil && code != 0 {
		err = fmt.Errorf("liquidator exited with code %d", code)
	}
	if err != nil {
		d.finish(req, domain.OutcomeFailed, code, err)
		return
	}
	d.finish(req, domain.OutcomeSuccess, code, nil)
}

// finish logs and records an outcome on the worker goroutine.
func (d *Dispatcher) finish(req DispatchRequest, outcome string, code int, err error) {
	d.record(d.outcome(req, outcome, code, err))
}

// outcome builds the record for req, logging it and counting it.
func (d *Dispatcher) outcome(req DispatchRequest, outcome string, code int, err error) domain.TriggerRecord {
	rec := domain.TriggerRecord{
		TriggerID:      req.TriggerID,
		Mint:           req.Mint,
		WindowStart:    req.WindowStart,
		BreachedAt:     req.BreachedAt,
		Volume:         req.Volume,
		Threshold:      req.Threshold,
		EventCount:     req.EventCount,
		Outcome:        outcome,
		CompletionCode: code,
		CompletedAt:    time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	observability.RecordDispatch(outcome)

	fields := []zap.Field{
		zap.String("event", "dispatch"),
		zap.String("trigger_id", req.TriggerID),
		zap.String("mint", req.Mint),
		zap.String("outcome", outcome),
		zap.Int("code", code),
		zap.Bool("simulate", d.simulateOnly),
	}
	if err != nil {
		d.logger.Error("liquidation dispatch finished", append(fields, zap.Error(err))...)
	} else {
		d.logger.Info("liquidation dispatch finished", fields...)
	}
	return rec
}

func (d *Dispatcher) record(rec domain.TriggerRecord) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.recorder.RecordTrigger(ctx, rec); err != nil {
		d.logger.Warn("record trigger outcome", zap.String("trigger_id", rec.TriggerID), zap.Error(err))
	}
}

// recordAsync records rec in the background. After Close the record is only logged.
func (d *Dispatcher) recordAsync(rec domain.TriggerRecord) {
	if d.recorder == nil {
		return
	}
	d.asyncMu.Lock()
	defer d.asyncMu.Unlock()
	if d.asyncClosed {
		d.logger.Warn("dispatcher closed, outcome not recorded", zap.String("trigger_id", rec.TriggerID))
		return
	}
	d.asyncWG.Add(1)
	go func() {
		defer d.asyncWG.Done()
		d.record(rec)
	}()
}
