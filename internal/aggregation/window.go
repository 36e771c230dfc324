// Package aggregation accumulates external buy volume in a sliding window and
// dispatches the liquidation action at most once per window.
package aggregation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/idhash"
	"solana-volume-guard/internal/observability"
)

// Trigger receives breach requests. Dispatch must not block.
type Trigger interface {
	Dispatch(req DispatchRequest) error
}

// Contribution is one external buy counted toward the window.
type Contribution struct {
	Signature string
	Amount    decimal.Decimal
	At        time.Time
}

// Snapshot is a point-in-time copy of the window state.
type Snapshot struct {
	StartedAt  *time.Time
	Volume     decimal.Decimal
	Events     []Contribution
	Triggered  bool
	Generation uint64
	Threshold  decimal.Decimal
}

// Progress returns volume as a fraction of the threshold.
func (s Snapshot) Progress() float64 {
	if !s.Threshold.IsPositive() {
		return 0
	}
	return s.Volume.Div(s.Threshold).InexactFloat64()
}

// WindowConfig configures a Window.
type WindowConfig struct {
	Mint      string
	Threshold decimal.Decimal
	Window    time.Duration
	Cooldown  time.Duration
	Urgency   domain.Urgency
}

// windowState is replaced wholesale on reset.
type windowState struct {
	startedAt *time.Time
	volume    decimal.Decimal
	events    []Contribution
	triggered bool
}

// Window owns the trigger-once invariant. It is safe for concurrent use.
type Window struct {
	cfg     WindowConfig
	trigger Trigger
	logger  *zap.Logger

	// afterFunc schedules the post-breach reset; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu         sync.Mutex
	state      windowState
	generation uint64
	resetTimer *time.Timer
	closed     bool
}

// NewWindow creates an empty window. A nil logger disables logging.
func NewWindow(cfg WindowConfig, trigger Trigger, logger *zap.Logger) *Window {
	if cfg.Window <= 0 {
		cfg.Window = domain.DefaultWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = domain.DefaultCooldown
	}
	if cfg.Urgency == "" {
		cfg.Urgency = domain.UrgencyHigh
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{
		cfg:       cfg,
		trigger:   trigger,
		logger:    logger.Named("window"),
		afterFunc: time.AfterFunc,
	}
}

// OnExternalBuy adds one external buy observed at c.At. It returns true when this
// buy breached the threshold and a dispatch was issued.
func (w *Window) OnExternalBuy(c Contribution) bool {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return false
	}

	// Expired without breach.
	if w.state.startedAt != nil && !w.state.triggered && c.At.Sub(*w.state.startedAt) > w.cfg.Window {
		w.logger.Info("window expired",
			zap.String("event", "window_expired"),
			zap.String("volume", w.state.volume.String()),
			zap.Int("events", len(w.state.events)),
		)
		w.resetLocked()
	}

	if w.state.startedAt == nil {
		start := c.At
		w.state.startedAt = &start
	}

	w.state.volume = w.state.volume.Add(c.Amount)
	w.state.events = append(w.state.events, c)
	observability.UpdateWindow(w.state.volume.InexactFloat64(), len(w.state.events))

	if w.state.triggered || w.state.volume.LessThan(w.cfg.Threshold) {
		w.mu.Unlock()
		return false
	}

	// Set before dispatching so a concurrent breach cannot dispatch again.
	w.state.triggered = true
	req := DispatchRequest{
		TriggerID:   idhash.ComputeTriggerID(w.cfg.Mint, w.state.startedAt.UnixMilli()),
		Mint:        w.cfg.Mint,
		Urgency:     w.cfg.Urgency,
		Volume:      w.state.volume,
		Threshold:   w.cfg.Threshold,
		WindowStart: *w.state.startedAt,
		BreachedAt:  c.At,
		EventCount:  len(w.state.events),
	}
	gen := w.generation
	w.resetTimer = w.afterFunc(w.cfg.Cooldown, func() { w.resetGeneration(gen) })
	w.mu.Unlock()

	observability.RecordBreach()
	w.logger.Warn("threshold breached",
		zap.String("event", "breach"),
		zap.String("mint", req.Mint),
		zap.String("volume", req.Volume.String()),
		zap.String("threshold", req.Threshold.String()),
		zap.Int("events", req.EventCount),
		zap.Duration("reset_in", w.cfg.Cooldown),
	)

	if w.trigger != nil {
		if err := w.trigger.Dispatch(req); err != nil {
			// Not re-armed: the next window's breach is the retry.
			w.logger.Error("dispatch rejected", zap.String("event", "dispatch"), zap.Error(err))
		}
	}
	return true
}

// resetGeneration resets the window only if it is still the generation that breached.
func (w *Window) resetGeneration(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.generation != gen {
		return
	}
	w.logger.Info("window reset after cooldown", zap.String("event", "window_reset"))
	w.resetLocked()
}

// Reset discards the current window immediately.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Window) resetLocked() {
	if w.resetTimer != nil {
		w.resetTimer.Stop()
		w.resetTimer = nil
	}
	w.state = windowState{}
	w.generation++
	observability.UpdateWindow(0, 0)
}

// Close stops the pending reset timer and rejects further buys.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resetTimer != nil {
		w.resetTimer.Stop()
		w.resetTimer = nil
	}
	w.closed = true
}

// Snapshot returns a copy of the current state.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		Volume:     w.state.volume,
		Triggered:  w.state.triggered,
		Generation: w.generation,
		Threshold:  w.cfg.Threshold,
		Events:     make([]Contribution, len(w.state.events)),
	}
	copy(snap.Events, w.state.events)
	if w.state.startedAt != nil {
		start := *w.state.startedAt
		snap.StartedAt = &start
	}
	return snap
}
