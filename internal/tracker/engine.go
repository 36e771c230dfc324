// Package tracker runs the notification read loop for one tracking session and
// exposes the operator surface that starts and stops it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"solana-volume-guard/internal/aggregation"
	"solana-volume-guard/internal/classifier"
	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/listener"
	"solana-volume-guard/internal/observability"
	"solana-volume-guard/internal/solana"
)

// Engine defaults.
const (
	DefaultPriorityQueueSize    = 64
	DefaultMaxBackgroundWorkers = 32
	DefaultStatusInterval       = 10 * time.Second
)

// EventClassifier classifies one notification. Implemented by *classifier.Classifier.
type EventClassifier interface {
	Mint() string
	Classify(ctx context.Context, notif solana.LogNotification, priority bool) (*domain.ClassifiedEvent, error)
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	WS                   solana.WSClient
	Classifier           EventClassifier
	Window               *aggregation.Window
	Hub                  *listener.Hub
	SwapProgram          string
	PriorityQueueSize    int           // Default: 64
	MaxBackgroundWorkers int64         // Default: 32
	StatusInterval       time.Duration // Default: 10s
	Logger               *zap.Logger
}

// Engine consumes log notifications serially and routes each one to the
// priority worker or a bounded background goroutine.
type Engine struct {
	ws          solana.WSClient
	classifier  EventClassifier
	window      *aggregation.Window
	hub         *listener.Hub
	swapProgram string
	queueSize   int
	background  *semaphore.Weighted
	status      time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewEngine creates an engine. Nothing runs until Run.
func NewEngine(opts EngineOptions) *Engine {
	queueSize := opts.PriorityQueueSize
	if queueSize <= 0 {
		queueSize = DefaultPriorityQueueSize
	}

	workers := opts.MaxBackgroundWorkers
	if workers <= 0 {
		workers = DefaultMaxBackgroundWorkers
	}

	status := opts.StatusInterval
	if status <= 0 {
		status = DefaultStatusInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := opts.Hub
	if hub == nil {
		hub = listener.NewHub(logger)
	}

	return &Engine{
		ws:          opts.WS,
		classifier:  opts.Classifier,
		window:      opts.Window,
		hub:         hub,
		swapProgram: opts.SwapProgram,
		queueSize:   queueSize,
		background:  semaphore.NewWeighted(workers),
		status:      status,
		logger:      logger.Named("engine"),
	}
}

// Run subscribes and processes notifications until ctx is cancelled, the feed
// closes or the connection gives up. Only a subscribe failure or
// solana.ErrReconnectExhausted is returned; per-event errors are logged.
// In-flight classifications are cancelled before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mint := e.classifier.Mint()

	logs, err := e.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{e.swapProgram}})
	if err != nil {
		return fmt.Errorf("subscribe logs for %s: %w", e.swapProgram, err)
	}

	// The account feed is only an activity signal.
	accounts, err := e.ws.SubscribeAccount(ctx, mint)
	if err != nil {
		e.logger.Warn("account subscription unavailable", zap.String("mint", mint), zap.Error(err))
		accounts = nil
	}

	e.logger.Info("tracking started",
		zap.String("event", "start"),
		zap.String("mint", mint),
		zap.String("program", e.swapProgram),
	)

	priority := make(chan solana.LogNotification, e.queueSize)
	e.wg.Add(1)
	go e.priorityWorker(ctx, priority)

	ticker := time.NewTicker(e.status)
	defer ticker.Stop()

	defer func() {
		cancel()
		close(priority)
		e.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-e.ws.Fatal():
			e.logger.Error("feed lost", zap.String("event", "fatal"), zap.Error(err))
			return err

		case notif, ok := <-logs:
			if !ok {
				e.logger.Info("log feed closed")
				return nil
			}
			e.route(ctx, notif, mint, priority)

		case acct, ok := <-accounts:
			if !ok {
				accounts = nil
				continue
			}
			observability.RecordAccountNotification()
			observability.UpdateHighestSlot(acct.Slot)
			e.logger.Debug("mint account changed", zap.Int64("slot", acct.Slot))

		case <-ticker.C:
			e.logStatus()
		}
	}
}

// route hands notif to the priority queue, blocking only while it is full, or
// to a background goroutine. Background notifications are dropped while every
// background slot is taken.
func (e *Engine) route(ctx context.Context, notif solana.LogNotification, mint string, priority chan<- solana.LogNotification) {
	observability.UpdateHighestSlot(notif.Slot)

	if classifier.IsPriority(notif, mint) {
		observability.RecordNotification("priority")
		select {
		case priority <- notif:
		case <-ctx.Done():
		}
		return
	}

	observability.RecordNotification("background")
	if !e.background.TryAcquire(1) {
		observability.RecordNotificationDropped()
		e.logger.Debug("background workers busy, notification dropped", zap.String("signature", notif.Signature))
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.background.Release(1)
		e.process(ctx, notif, false)
	}()
}

func (e *Engine) priorityWorker(ctx context.Context, queue <-chan solana.LogNotification) {
	defer e.wg.Done()
	for notif := range queue {
		if ctx.Err() != nil {
			continue
		}
		e.process(ctx, notif, true)
	}
}

// process classifies one notification and fans the event out.
func (e *Engine) process(ctx context.Context, notif solana.LogNotification, priority bool) {
	ev, err := e.classifier.Classify(ctx, notif, priority)
	if err != nil {
		e.logSkip(notif.Signature, err)
		return
	}
	// A stopped run must not move the window.
	if ctx.Err() != nil {
		return
	}

	if ev.IsExternalBuy() && e.window != nil {
		e.window.OnExternalBuy(aggregation.Contribution{
			Signature: ev.Signature,
			Amount:    ev.Volume,
			At:        ev.ObservedAt,
		})
	}

	e.hub.Emit(ctx, *ev)
}

func (e *Engine) logSkip(signature string, err error) {
	switch {
	case errors.Is(err, classifier.ErrDuplicate),
		errors.Is(err, classifier.ErrNotTracked),
		errors.Is(err, classifier.ErrFailedTransaction),
		errors.Is(err, context.Canceled):
		e.logger.Debug("notification skipped", zap.String("signature", signature), zap.Error(err))
	case errors.Is(err, classifier.ErrUnresolved):
		e.logger.Warn("transaction unresolved", zap.String("signature", signature), zap.Error(err))
	default:
		e.logger.Error("classification failed", zap.String("signature", signature), zap.Error(err))
	}
}

func (e *Engine) logStatus() {
	fields := []zap.Field{
		zap.String("event", "status"),
		zap.String("state", e.ws.State().String()),
	}
	if e.window != nil {
		snap := e.window.Snapshot()
		fields = append(fields,
			zap.String("volume", snap.Volume.String()),
			zap.String("threshold", snap.Threshold.String()),
			zap.Float64("progress", snap.Progress()),
			zap.Int("events", len(snap.Events)),
			zap.Bool("triggered", snap.Triggered),
		)
	}
	e.logger.Info("status", fields...)
}
