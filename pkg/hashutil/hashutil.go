// Package hashutil is the system's SHA-256 primitive (spec §2 C2): lowercase
// hex-encoded digests. pkg/canonical computes the same digest format for its
// canonical JSON with crypto/sha256 directly.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex-encoded SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexString is Hex over a string, avoiding a caller-side []byte(s) copy site.
func HexString(s string) string {
	return Hex([]byte(s))
}

// EmptyHash is the SHA-256 digest of the empty byte string, used as the
// genesis previous-hash for a fresh audit chain (spec §8 scenario 1).
var EmptyHash = Hex(nil)
