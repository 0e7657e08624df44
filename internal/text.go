package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a stable hex key usable for memcached and S3 object names.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TruncateRunes cuts s to limit characters and appends marker when anything was cut.
func TruncateRunes(s string, limit int, marker string) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + marker
		}
		n++
	}
	return s
}
