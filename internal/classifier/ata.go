package classifier

import (
	"sync"

	"solana-volume-guard/internal/solana"
)

const ataCacheLimit = 4096

// ataCache memoizes a wallet's associated token accounts for the tracked mint
// under both token programs.
type ataCache struct {
	mint string

	mu      sync.Mutex
	entries map[string]map[string]struct{}
}

func newATACache(mint string) *ataCache {
	return &ataCache{mint: mint, entries: make(map[string]map[string]struct{})}
}

func (a *ataCache) lookup(wallet string) map[string]struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	if set, ok := a.entries[wallet]; ok {
		return set
	}

	set := make(map[string]struct{}, 2)
	for _, program := range []string{solana.TokenProgramID, solana.Token2022ProgramID} {
		addr, err := solana.DeriveAssociatedTokenAddress(wallet, a.mint, program)
		if err != nil {
			continue
		}
		set[addr] = struct{}{}
	}

	if len(a.entries) >= ataCacheLimit {
		a.entries = make(map[string]map[string]struct{})
	}
	a.entries[wallet] = set
	return set
}
