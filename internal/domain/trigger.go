package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dispatch outcome codes.
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomeFailed    = "FAILED"
	OutcomeSimulated = "SIMULATED"
	OutcomeDropped   = "DROPPED"
)

// TriggerRecord describes one threshold breach and how its dispatch ended.
type TriggerRecord struct {
	TriggerID      string          // deterministic hash of mint and window start
	Mint           string          // tracked mint
	WindowStart    time.Time       // when the breaching window started
	BreachedAt     time.Time       // timestamp of the breaching buy
	Volume         decimal.Decimal // cumulative external buy volume at breach
	Threshold      decimal.Decimal // configured threshold
	EventCount     int             // contributing events at breach
	Outcome        string          // SUCCESS | FAILED | SIMULATED | DROPPED
	CompletionCode int             // liquidator exit code, -1 if not invoked
	Error          string          // failure description, empty on success
	CompletedAt    time.Time       // when the dispatch finished
}
