package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash hashes a canonical journal encoding (see Journal.CanonicalJSON).
func ComputeHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
