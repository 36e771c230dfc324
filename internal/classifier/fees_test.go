package classifier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/solana"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHeuristicFeeEstimator(t *testing.T) {
	h := NewHeuristicFeeEstimator()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"one sol", "1", "0.989495"},
		{"half sol", "0.5", "0.494495"},
		{"negative delta uses magnitude", "-0.5", "0.494495"},
		{"dust never negative", "0.0001", "0"},
		{"zero", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Net(domain.SideBuy, d(tt.raw), nil)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestHeuristicFeeEstimator_ClampsImplausibleResult(t *testing.T) {
	h := NewHeuristicFeeEstimator()
	h.BaseFee = decimal.Zero
	h.PriorityAllowance = decimal.Zero
	h.Percent = decimal.Zero

	got := h.Net(domain.SideBuy, d("2"), nil)
	assert.True(t, got.Equal(d("1.94")), "got %s", got)
}

func TestHeuristicFeeEstimator_DefaultsNeverClamp(t *testing.T) {
	h := NewHeuristicFeeEstimator()
	for _, raw := range []string{"0.001", "0.05", "1", "37.5", "10000"} {
		r := d(raw)
		want := r.Sub(d("0.000505")).Sub(r.Mul(d("0.01")))
		if want.IsNegative() {
			want = decimal.Zero
		}
		got := h.Net(domain.SideBuy, r, nil)
		assert.True(t, got.Equal(want), "raw %s: got %s want %s", raw, got, want)
		assert.False(t, got.Equal(r.Mul(h.ClampRatio)), "raw %s clamped", raw)
	}
}

func TestMetaFeeEstimator(t *testing.T) {
	tx := &solana.Transaction{Meta: &solana.TransactionMeta{Fee: 105000}}
	m := MetaFeeEstimator{Fallback: NewHeuristicFeeEstimator()}

	assert.True(t, m.Net(domain.SideBuy, d("1"), tx).Equal(d("0.999895")))
	assert.True(t, m.Net(domain.SideSell, d("1"), tx).Equal(d("1.000105")))
	assert.True(t, m.Net(domain.SideNone, d("1"), tx).Equal(d("1")))
	assert.True(t, m.Net(domain.SideBuy, d("0.00001"), tx).IsZero())

	// No fee field: fallback heuristic.
	assert.True(t, m.Net(domain.SideBuy, d("1"), &solana.Transaction{}).Equal(d("0.989495")))
	assert.True(t, MetaFeeEstimator{}.Net(domain.SideBuy, d("1"), nil).Equal(d("1")))
}
