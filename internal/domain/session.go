package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Session defaults.
const (
	DefaultWindow   = 60 * time.Second
	DefaultCooldown = 5 * time.Second
)

// ErrInvalidSession is returned when a tracking session fails validation.
var ErrInvalidSession = errors.New("invalid tracking session")

// TrackingSession is the live configuration of one tracking run.
// Everything except the internal wallet set is read-only after start.
type TrackingSession struct {
	Mint            string          // tracked SPL mint
	SwapProgram     string          // program id used as the log subscription filter
	InternalWallets []string        // operator wallets, excluded from external volume
	Threshold       decimal.Decimal // cumulative external buy volume (SOL) that triggers liquidation
	Window          time.Duration   // aggregation window length
	Cooldown        time.Duration   // delay between a breach and the window reset
	SimulateOnly    bool            // log the liquidation intent without invoking it
	Urgency         Urgency         // priority hint passed to the liquidator
}

// WithDefaults returns a copy with zero durations and urgency filled in.
func (s TrackingSession) WithDefaults() TrackingSession {
	if s.Window == 0 {
		s.Window = DefaultWindow
	}
	if s.Cooldown == 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.Urgency == "" {
		s.Urgency = UrgencyHigh
	}
	return s
}

// Validate checks required fields.
func (s TrackingSession) Validate() error {
	if s.Mint == "" {
		return fmt.Errorf("%w: mint is required", ErrInvalidSession)
	}
	if s.SwapProgram == "" {
		return fmt.Errorf("%w: swap program is required", ErrInvalidSession)
	}
	if !s.Threshold.IsPositive() {
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidSession, s.Threshold)
	}
	if s.Window < 0 || s.Cooldown < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidSession)
	}
	return nil
}
