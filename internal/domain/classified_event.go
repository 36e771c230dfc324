package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClassifiedEvent is the result of classifying one transaction that touched the tracked mint.
// Values are immutable once produced; consumers receive copies.
type ClassifiedEvent struct {
	Signature   string          // transaction signature
	Mint        string          // tracked mint
	Side        Side            // BUY, SELL or NONE
	Wallet      string          // first signer of the transaction
	IsInternal  bool            // wallet belongs to the operator
	Volume      decimal.Decimal // SOL volume after fee estimation
	TokenAmount decimal.Decimal // absolute change of the wallet's token holdings
	ObservedAt  time.Time       // local time classification finished
	Slot        int64           // Solana slot
	BlockTime   int64           // Unix timestamp (seconds), 0 if unknown
	Priority    bool            // processed on the priority path
}

// IsExternalBuy reports whether the event counts toward external buy volume.
func (e ClassifiedEvent) IsExternalBuy() bool {
	return e.Side == SideBuy && !e.IsInternal && e.Volume.IsPositive()
}
