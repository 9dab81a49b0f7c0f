package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identity like "sec_3f9c…" for sections, blocks and
// other engine-owned entities. Row identities for proposals and templates are
// assigned by storage, not here.
func NewID(prefix string) string {
	if prefix == "" {
		return RandomHex(16)
	}
	return prefix + "_" + RandomHex(16)
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
