// Package ingest turns provider webhook payloads into swap records.
package ingest

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DecodeAddress decodes a base58 Solana address into its 32 raw bytes.
func DecodeAddress(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("address %q: %w", s, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("address %q: decoded to %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// ValidateAddress checks that s is a well-formed 32-byte base58 address.
func ValidateAddress(s string) error {
	_, err := DecodeAddress(s)
	return err
}

// IsWallet reports whether s is an ed25519 public key on the curve, i.e. an
// account that can sign. Program-derived addresses are off-curve.
func IsWallet(s string) bool {
	raw, err := DecodeAddress(s)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw[:])
	return err == nil
}
