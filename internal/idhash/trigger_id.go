package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTriggerID computes a deterministic trigger_id using SHA256.
// Formula: SHA256(mint|window_start_ms)
// Returns hex-encoded hash (64 characters).
func ComputeTriggerID(mint string, windowStartMs int64) string {
	data := fmt.Sprintf("%s|%d", mint, windowStartMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
