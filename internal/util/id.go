package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 32-hex-char identifier, optionally prefixed
// ("room_ab12..."). Prefixes keep mixed key spaces greppable.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewContextTag returns a short origin tag identifying one browsing
// context peer, carried on permission change messages for diagnostics.
func NewContextTag() string {
	bytes := make([]byte, 4)
	_, _ = rand.Read(bytes)
	return "ctx_" + hex.EncodeToString(bytes)
}
