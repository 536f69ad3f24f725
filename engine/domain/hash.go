package domain

import (
	"crypto/md5"
	"encoding/hex"
)

// HashLen is the length in hex characters of a content hash.
const HashLen = 12

// ContentHash derives the deterministic identifier for a resource from its
// canonical URL. The 96-bit truncated digest is collision-resistant enough
// for dedup at corpus scale; identical locators always map to the same hash.
func ContentHash(locator string) string {
	sum := md5.Sum([]byte(locator))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// ValidHash reports whether s looks like a content hash: exactly HashLen
// lowercase hex characters.
func ValidHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
