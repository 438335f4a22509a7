package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token string so raw tokens are never used as keys.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
