// Package classifier turns log notifications into classified buy/sell events for
// the tracked mint.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solana-volume-guard/internal/dedup"
	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/observability"
	"solana-volume-guard/internal/session"
	"solana-volume-guard/internal/solana"
)

// Classification outcomes that produce no event.
var (
	// ErrUnresolved is returned when every resolution step failed. The signature
	// is forgotten by the dedup cache and may be retried.
	ErrUnresolved = errors.New("transaction unresolved")

	// ErrNotTracked is returned when the transaction does not touch the tracked mint.
	ErrNotTracked = errors.New("transaction does not touch tracked mint")

	// ErrDuplicate is returned when the signature was already classified or is in flight.
	ErrDuplicate = errors.New("duplicate signature")

	// ErrFailedTransaction is returned for transactions that executed with an error.
	ErrFailedTransaction = errors.New("transaction failed on chain")
)

// DefaultNoiseThreshold is the SOL drop above which an unchanged token balance
// still counts as a buy.
var DefaultNoiseThreshold = decimal.RequireFromString("0.001")

// TransactionResolver fetches a full transaction by signature.
type TransactionResolver interface {
	Resolve(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Options configures a Classifier.
type Options struct {
	Mint           string
	Wallets        *session.Wallets
	Resolver       TransactionResolver
	Dedup          *dedup.Cache    // Default: dedup.New(dedup.DefaultCapacity)
	Fees           FeeEstimator    // Default: NewHeuristicFeeEstimator()
	NoiseThreshold decimal.Decimal // Default: 0.001 SOL
	Logger         *zap.Logger
	Now            func() time.Time
}

// Classifier produces at most one ClassifiedEvent per notification. It is safe
// for concurrent use.
type Classifier struct {
	mint     string
	wallets  *session.Wallets
	resolver TransactionResolver
	dedup    *dedup.Cache
	fees     FeeEstimator
	noise    decimal.Decimal
	logger   *zap.Logger
	now      func() time.Time

	// associated token accounts are derived lazily per wallet
	ataCache *ataCache
}

// New creates a Classifier.
func New(opts Options) *Classifier {
	if opts.Wallets == nil {
		opts.Wallets = session.NewWallets(nil)
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(dedup.DefaultCapacity)
	}
	if opts.Fees == nil {
		opts.Fees = NewHeuristicFeeEstimator()
	}
	if !opts.NoiseThreshold.IsPositive() {
		opts.NoiseThreshold = DefaultNoiseThreshold
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		mint:     opts.Mint,
		wallets:  opts.Wallets,
		resolver: opts.Resolver,
		dedup:    opts.Dedup,
		fees:     opts.Fees,
		noise:    opts.NoiseThreshold,
		logger:   opts.Logger.Named("classifier"),
		now:      opts.Now,
		ataCache: newATACache(opts.Mint),
	}
}

// Mint returns the tracked mint.
func (c *Classifier) Mint() string {
	return c.mint
}

// IsPriority reports whether any log line mentions mint.
func IsPriority(notif solana.LogNotification, mint string) bool {
	if mint == "" {
		return false
	}
	for _, line := range notif.Logs {
		if strings.Contains(line, mint) {
			return true
		}
	}
	return false
}

// Classify resolves the notification's transaction and classifies it. Skipped
// notifications return one of the package errors.
func (c *Classifier) Classify(ctx context.Context, notif solana.LogNotification, priority bool) (*domain.ClassifiedEvent, error) {
	start := c.now()
	path := "background"
	if priority {
		path = "priority"
	}

	if notif.Signature == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrNotTracked)
	}
	if notif.Err != nil {
		return nil, ErrFailedTransaction
	}

	if !c.dedup.Begin(notif.Signature) {
		observability.RecordDedupHit()
		return nil, ErrDuplicate
	}

	tx, err := c.resolver.Resolve(ctx, notif.Signature)
	if err != nil {
		c.dedup.Abandon(notif.Signature)
		observability.RecordClassificationError("unresolved")
		return nil, fmt.Errorf("%w: %s: %w", ErrUnresolved, notif.Signature, err)
	}

	// Any resolved transaction is final, matching or not.
	c.dedup.Complete(notif.Signature)
	observability.SetDedupSize(c.dedup.Len())

	if tx.Failed() {
		return nil, ErrFailedTransaction
	}

	ev, err := c.Evaluate(tx, c.wallets.Snapshot())
	if err != nil {
		if !errors.Is(err, ErrNotTracked) {
			observability.RecordClassificationError("evaluate")
		}
		return nil, err
	}

	if ev.Slot == 0 {
		ev.Slot = notif.Slot
	}
	ev.Priority = priority
	ev.ObservedAt = c.now()

	observability.RecordClassificationLatency(path, ev.ObservedAt.Sub(start).Seconds())

	c.logger.Debug("classified",
		zap.String("signature", ev.Signature),
		zap.String("side", string(ev.Side)),
		zap.String("wallet", ev.Wallet),
		zap.Bool("internal", ev.IsInternal),
		zap.String("volume", ev.Volume.String()),
		zap.String("path", path),
	)

	return ev, nil
}

// Evaluate classifies an already resolved transaction against the wallet set.
func (c *Classifier) Evaluate(tx *solana.Transaction, wallets *session.WalletSet) (*domain.ClassifiedEvent, error) {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return nil, fmt.Errorf("%w: incomplete transaction", ErrNotTracked)
	}
	if !touchesMint(tx, c.mint) {
		return nil, ErrNotTracked
	}

	wallet := actingWallet(tx)
	if wallet == "" {
		return nil, fmt.Errorf("%w: no signer", ErrNotTracked)
	}

	tokenDelta := c.walletTokenDelta(tx, wallet)
	solDelta := walletSOLDelta(tx, wallet)

	side := domain.SideNone
	switch {
	case tokenDelta.IsPositive():
		side = domain.SideBuy
	case tokenDelta.IsNegative():
		side = domain.SideSell
	case solDelta.LessThan(c.noise.Neg()):
		side = domain.SideBuy
	}

	volume := decimal.Zero
	if side != domain.SideNone {
		volume = c.fees.Net(side, solDelta.Abs(), tx)
	}

	return &domain.ClassifiedEvent{
		Signature:   tx.Signature,
		Mint:        c.mint,
		Side:        side,
		Wallet:      wallet,
		IsInternal:  wallets.Contains(wallet),
		Volume:      volume,
		TokenAmount: tokenDelta.Abs(),
		Slot:        tx.Slot,
		BlockTime:   tx.BlockTime,
	}, nil
}

// touchesMint scans account keys (static and loaded) and token balances for mint.
func touchesMint(tx *solana.Transaction, mint string) bool {
	for _, k := range tx.AccountKeys() {
		if k == mint {
			return true
		}
	}
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Mint == mint {
			return true
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Mint == mint {
			return true
		}
	}
	return false
}

// actingWallet is the first signer, falling back to the fee-payer slot.
func actingWallet(tx *solana.Transaction) string {
	if signers := tx.Signers(); len(signers) > 0 {
		return signers[0]
	}
	if keys := tx.AccountKeys(); len(keys) > 0 {
		return keys[0]
	}
	return ""
}

// walletSOLDelta returns post minus pre lamports of wallet, in SOL.
func walletSOLDelta(tx *solana.Transaction, wallet string) decimal.Decimal {
	idx := tx.IndexOf(wallet)
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return decimal.Zero
	}
	delta := int64(tx.Meta.PostBalances[idx]) - int64(tx.Meta.PreBalances[idx])
	return decimal.New(delta, -9)
}

// walletTokenDelta returns the change of wallet's holdings of the mint. Balances
// are matched by owner; entries without an owner are matched through the
// wallet's associated token accounts.
func (c *Classifier) walletTokenDelta(tx *solana.Transaction, wallet string) decimal.Decimal {
	byOwner := func(b solana.TokenBalance) bool { return b.Owner == wallet }

	pre, preFound := sumHoldings(tx.Meta.PreTokenBalances, c.mint, byOwner)
	post, postFound := sumHoldings(tx.Meta.PostTokenBalances, c.mint, byOwner)
	if preFound || postFound {
		return post.Sub(pre)
	}

	atas := c.ataCache.lookup(wallet)
	if len(atas) == 0 {
		return decimal.Zero
	}
	keys := tx.AccountKeys()
	byATA := func(b solana.TokenBalance) bool {
		if b.Owner != "" || b.AccountIndex < 0 || b.AccountIndex >= len(keys) {
			return false
		}
		_, ok := atas[keys[b.AccountIndex]]
		return ok
	}

	pre, _ = sumHoldings(tx.Meta.PreTokenBalances, c.mint, byATA)
	post, _ = sumHoldings(tx.Meta.PostTokenBalances, c.mint, byATA)
	return post.Sub(pre)
}

// sumHoldings adds up UI amounts of mint balances accepted by match.
func sumHoldings(balances []solana.TokenBalance, mint string, match func(solana.TokenBalance) bool) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, b := range balances {
		if b.Mint != mint || !match(b) {
			continue
		}
		found = true
		total = total.Add(uiAmount(b))
	}
	return total, found
}

func uiAmount(b solana.TokenBalance) decimal.Decimal {
	if b.Amount != "" {
		if raw, err := decimal.NewFromString(b.Amount); err == nil {
			return raw.Shift(int32(-b.Decimals))
		}
	}
	if b.UIAmountString != "" {
		if ui, err := decimal.NewFromString(b.UIAmountString); err == nil {
			return ui
		}
	}
	return decimal.Zero
}
