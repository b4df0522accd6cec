package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewPIN generates a random 4-digit PIN as a zero-padded string.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// NewBypassToken generates a long random token for shareable display
// links and QR codes.
func NewBypassToken() (string, error) {
	return RandomHex(32) // 32 bytes -> 64 hex chars
}

// HashSubmitterIP derives the stored submitter identity from a raw
// client IP. The salt keeps the hash from being a reversible lookup
// table over the IPv4 space; raw addresses are never persisted.
func HashSubmitterIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + "|" + ip))
	return hex.EncodeToString(sum[:])
}
