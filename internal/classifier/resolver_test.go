package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-volume-guard/internal/solana"
)

// funcRPC answers GetTransaction with fn and records the options of every call.
type funcRPC struct {
	mu    sync.Mutex
	calls []solana.GetTransactionOpts
	fn    func(ctx context.Context, opts solana.GetTransactionOpts) (*solana.Transaction, error)
}

func (f *funcRPC) GetTransaction(ctx context.Context, _ string, opts solana.GetTransactionOpts) (*solana.Transaction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	return f.fn(ctx, opts)
}

func (f *funcRPC) GetSlot(context.Context) (int64, error) { return 0, nil }

func (f *funcRPC) recorded() []solana.GetTransactionOpts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]solana.GetTransactionOpts(nil), f.calls...)
}

func TestResolver_FallsBackToRawEncoding(t *testing.T) {
	rpc := &funcRPC{fn: func(_ context.Context, opts solana.GetTransactionOpts) (*solana.Transaction, error) {
		if opts.Encoding == solana.EncodingJSON {
			return &solana.Transaction{Signature: "sig"}, nil
		}
		return nil, errors.New("parse failure")
	}}
	r := NewResolver(rpc, ResolverConfig{}, nil)

	tx, err := r.Resolve(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, "sig", tx.Signature)
	assert.Equal(t, DefaultCascade, rpc.recorded())
}

func TestResolver_StopsAtFirstSuccess(t *testing.T) {
	rpc := &funcRPC{fn: func(context.Context, solana.GetTransactionOpts) (*solana.Transaction, error) {
		return &solana.Transaction{Signature: "sig"}, nil
	}}
	r := NewResolver(rpc, ResolverConfig{}, nil)

	_, err := r.Resolve(context.Background(), "sig")
	require.NoError(t, err)
	require.Len(t, rpc.recorded(), 1)
	assert.Equal(t, solana.CommitmentFinalized, rpc.recorded()[0].Commitment)
}

func TestResolver_AllFail(t *testing.T) {
	rpc := &funcRPC{fn: func(context.Context, solana.GetTransactionOpts) (*solana.Transaction, error) {
		return nil, solana.ErrNotFound
	}}
	r := NewResolver(rpc, ResolverConfig{}, nil)

	_, err := r.Resolve(context.Background(), "sig")
	require.Error(t, err)
	assert.ErrorIs(t, err, solana.ErrNotFound)
	assert.Contains(t, err.Error(), "finalized/jsonParsed")
	assert.Contains(t, err.Error(), "confirmed/json")
}

func TestResolver_BoundedByOverallTimeout(t *testing.T) {
	rpc := &funcRPC{fn: func(ctx context.Context, _ solana.GetTransactionOpts) (*solana.Transaction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewResolver(rpc, ResolverConfig{
		AttemptTimeout: 40 * time.Millisecond,
		ResolveTimeout: 60 * time.Millisecond,
	}, nil)

	start := time.Now()
	_, err := r.Resolve(context.Background(), "sig")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
	assert.LessOrEqual(t, len(rpc.recorded()), 2)
}
