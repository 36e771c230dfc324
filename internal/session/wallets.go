// Package session holds the operator-owned wallet set shared by concurrent classifications.
package session

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/mr-tron/base58"
)

// NormalizeAddress returns the canonical form of a wallet address.
// Surrounding whitespace is dropped and valid 32-byte base58 keys are re-encoded.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if raw, err := base58.Decode(addr); err == nil && len(raw) == 32 {
		addr = base58.Encode(raw)
	}
	return addr
}

// walletKey is the membership key; lookups ignore case.
func walletKey(addr string) string {
	return strings.ToLower(NormalizeAddress(addr))
}

// WalletSet is an immutable set of internal wallet addresses.
type WalletSet struct {
	keys  map[string]struct{}
	addrs []string
}

// NewWalletSet builds a set from raw addresses. Empty entries are skipped.
func NewWalletSet(addrs []string) *WalletSet {
	s := &WalletSet{keys: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		norm := NormalizeAddress(a)
		if norm == "" {
			continue
		}
		k := strings.ToLower(norm)
		if _, ok := s.keys[k]; ok {
			continue
		}
		s.keys[k] = struct{}{}
		s.addrs = append(s.addrs, norm)
	}
	sort.Strings(s.addrs)
	return s
}

// Contains reports whether addr is an internal wallet.
func (s *WalletSet) Contains(addr string) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[walletKey(addr)]
	return ok
}

// Len returns the number of wallets.
func (s *WalletSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.addrs)
}

// Addresses returns a copy of the normalized addresses, sorted.
func (s *WalletSet) Addresses() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.addrs))
	copy(out, s.addrs)
	return out
}

// Wallets holds the current WalletSet snapshot. Readers never observe a partial update.
type Wallets struct {
	current atomic.Pointer[WalletSet]
}

// NewWallets creates a holder initialized with addrs.
func NewWallets(addrs []string) *Wallets {
	w := &Wallets{}
	w.current.Store(NewWalletSet(addrs))
	return w
}

// Snapshot returns the current immutable set.
func (w *Wallets) Snapshot() *WalletSet {
	return w.current.Load()
}

// Update replaces the wallet set wholesale.
func (w *Wallets) Update(addrs []string) {
	w.current.Store(NewWalletSet(addrs))
}

// Contains is shorthand for Snapshot().Contains(addr).
func (w *Wallets) Contains(addr string) bool {
	return w.Snapshot().Contains(addr)
}
