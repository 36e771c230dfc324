package solana

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the node has no transaction for the signature
// at the requested commitment.
var ErrNotFound = errors.New("transaction not found")

// RPCClient defines the Solana RPC HTTP interface.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	GetTransaction(ctx context.Context, signature string, opts GetTransactionOpts) (*Transaction, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}
