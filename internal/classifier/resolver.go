package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-volume-guard/internal/solana"
)

// Resolver defaults.
const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultResolveTimeout = 15 * time.Second
)

// DefaultCascade is the lookup order: most-confirmed parsed first, then
// confirmed parsed, then the raw encoding.
var DefaultCascade = []solana.GetTransactionOpts{
	{Commitment: solana.CommitmentFinalized, Encoding: solana.EncodingJSONParsed},
	{Commitment: solana.CommitmentConfirmed, Encoding: solana.EncodingJSONParsed},
	{Commitment: solana.CommitmentConfirmed, Encoding: solana.EncodingJSON},
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Cascade        []solana.GetTransactionOpts // Default: DefaultCascade
	AttemptTimeout time.Duration               // Default: 5s, per lookup
	ResolveTimeout time.Duration               // Default: 15s, whole cascade
}

// Resolver fetches full transactions through the commitment cascade.
type Resolver struct {
	rpc            solana.RPCClient
	cascade        []solana.GetTransactionOpts
	attemptTimeout time.Duration
	resolveTimeout time.Duration
	logger         *zap.Logger
}

// NewResolver creates a resolver over rpc.
func NewResolver(rpc solana.RPCClient, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if len(cfg.Cascade) == 0 {
		cfg.Cascade = DefaultCascade
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		rpc:            rpc,
		cascade:        cfg.Cascade,
		attemptTimeout: cfg.AttemptTimeout,
		resolveTimeout: cfg.ResolveTimeout,
		logger:         logger.Named("resolver"),
	}
}

// Resolve returns the first transaction any cascade step yields. The error joins
// every step's failure.
func (r *Resolver) Resolve(ctx context.Context, signature string) (*solana.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	var errs []error
	for _, opts := range r.cascade {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		attemptCtx, attemptCancel := context.WithTimeout(ctx, r.attemptTimeout)
		tx, err := r.rpc.GetTransaction(attemptCtx, signature, opts)
		attemptCancel()

		if err == nil && tx != nil {
			return tx, nil
		}
		if err == nil {
			err = solana.ErrNotFound
		}

		r.logger.Debug("resolution step failed",
			zap.String("signature", signature),
			zap.String("commitment", string(opts.Commitment)),
			zap.String("encoding", string(opts.Encoding)),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s/%s: %w", opts.Commitment, opts.Encoding, err))
	}

	return nil, errors.Join(errs...)
}
