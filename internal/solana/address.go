package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// ErrInvalidAddress is returned for strings that are not 32-byte base58 public keys.
var ErrInvalidAddress = errors.New("invalid address")

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("no viable bump seed")

// DecodeAddress decodes a base58 public key.
func DecodeAddress(addr string) ([]byte, error) {
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, addr, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrInvalidAddress, addr, len(b))
	}
	return b, nil
}

// DeriveAssociatedTokenAddress returns the associated token account of wallet for
// mint under the given token program (TokenProgramID when empty).
// Seeds: [wallet, token_program, mint]
func DeriveAssociatedTokenAddress(wallet, mint, tokenProgram string) (string, error) {
	if tokenProgram == "" {
		tokenProgram = TokenProgramID
	}

	walletBytes, err := DecodeAddress(wallet)
	if err != nil {
		return "", err
	}
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	tokenProgramBytes, err := DecodeAddress(tokenProgram)
	if err != nil {
		return "", err
	}
	ataProgramBytes, err := DecodeAddress(AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{walletBytes, tokenProgramBytes, mintBytes}, ataProgramBytes)
	return addr, err
}

// FindProgramAddress derives a Program Derived Address, searching bump seeds
// from 255 down for the first off-curve hash.
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		hash := h.Sum(nil)

		if !IsOnCurve(hash) {
			return base58.Encode(hash), uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

// IsOnCurve reports whether the 32 bytes decode to a valid ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
