package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns a short hex digest for cache keys. Keys only need to
// be stable and collision-resistant enough for lookups, not secret.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
