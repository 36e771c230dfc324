package stub

import (
	"context"
	"sync"
	"time"

	"solana-volume-guard/internal/solana"
)

// Call records one GetTransaction request.
type Call struct {
	Signature string
	Opts      solana.GetTransactionOpts
}

// RPCClient implements solana.RPCClient for testing. Transactions are served
// per commitment; a signature missing at a commitment returns solana.ErrNotFound.
type RPCClient struct {
	mu           sync.Mutex
	transactions map[solana.Commitment]map[string]*solana.Transaction
	errors       map[string]error
	calls        []Call

	// Delay is applied to every GetTransaction call, honoring ctx.
	Delay time.Duration
	Slot  int64
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[solana.Commitment]map[string]*solana.Transaction),
		errors:       make(map[string]error),
	}
}

// GetTransaction returns the stored transaction for the signature at opts.Commitment.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string, opts solana.GetTransactionOpts) (*solana.Transaction, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Signature: signature, Opts: opts})
	delay := c.Delay
	err := c.errors[signature]
	tx := c.transactions[opts.Commitment][signature]
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, solana.ErrNotFound
	}
	return tx, nil
}

// GetSlot returns Slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

// AddTransaction stores tx at the given commitments (confirmed when none are given).
func (c *RPCClient) AddTransaction(tx *solana.Transaction, commitments ...solana.Commitment) {
	if len(commitments) == 0 {
		commitments = []solana.Commitment{solana.CommitmentConfirmed}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cm := range commitments {
		if c.transactions[cm] == nil {
			c.transactions[cm] = make(map[string]*solana.Transaction)
		}
		c.transactions[cm][tx.Signature] = tx
	}
}

// FailSignature makes every lookup of signature return err.
func (c *RPCClient) FailSignature(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[signature] = err
}

// Calls returns a copy of the recorded calls.
func (c *RPCClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}
