package classifier

import (
	"github.com/shopspring/decimal"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/solana"
)

// FeeEstimator turns a wallet's raw SOL delta (absolute value) into trade volume.
type FeeEstimator interface {
	Net(side domain.Side, raw decimal.Decimal, tx *solana.Transaction) decimal.Decimal
}

// HeuristicFeeEstimator subtracts a flat base fee, a priority-fee allowance and a
// percentage of the amount. A result above PlausibleRatio of raw is clamped to
// ClampRatio of raw. The result is never negative.
//
// The clamp only fires when Percent is below 1 - PlausibleRatio. With the
// default constants the deduction is always at least 1% of raw, so the branch is
// reachable only with custom constants, such as a Percent of zero.
type HeuristicFeeEstimator struct {
	BaseFee           decimal.Decimal
	PriorityAllowance decimal.Decimal
	Percent           decimal.Decimal
	PlausibleRatio    decimal.Decimal
	ClampRatio        decimal.Decimal
}

// NewHeuristicFeeEstimator returns the estimator with its default constants.
func NewHeuristicFeeEstimator() HeuristicFeeEstimator {
	return HeuristicFeeEstimator{
		BaseFee:           decimal.RequireFromString("0.000005"),
		PriorityAllowance: decimal.RequireFromString("0.0005"),
		Percent:           decimal.RequireFromString("0.01"),
		PlausibleRatio:    decimal.RequireFromString("0.99"),
		ClampRatio:        decimal.RequireFromString("0.97"),
	}
}

// Net implements FeeEstimator.
func (h HeuristicFeeEstimator) Net(_ domain.Side, raw decimal.Decimal, _ *solana.Transaction) decimal.Decimal {
	raw = raw.Abs()
	if raw.IsZero() {
		return decimal.Zero
	}

	fee := h.BaseFee.Add(h.PriorityAllowance).Add(raw.Mul(h.Percent))
	net := raw.Sub(fee)

	if net.GreaterThan(raw.Mul(h.PlausibleRatio)) {
		net = raw.Mul(h.ClampRatio)
	}
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// MetaFeeEstimator uses the exact fee the transaction paid. Buys paid the fee on
// top of the trade, sells had it deducted from the proceeds. Without a fee field
// it defers to Fallback.
type MetaFeeEstimator struct {
	Fallback FeeEstimator
}

// Net implements FeeEstimator.
func (m MetaFeeEstimator) Net(side domain.Side, raw decimal.Decimal, tx *solana.Transaction) decimal.Decimal {
	raw = raw.Abs()
	if tx == nil || tx.Meta == nil || tx.Meta.Fee == 0 {
		if m.Fallback != nil {
			return m.Fallback.Net(side, raw, tx)
		}
		return raw
	}

	fee := decimal.New(int64(tx.Meta.Fee), -9)
	var net decimal.Decimal
	switch side {
	case domain.SideBuy:
		net = raw.Sub(fee)
	case domain.SideSell:
		net = raw.Add(fee)
	default:
		net = raw
	}
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
