package identity

import "crypto/sha256"

// preHash condenses an arbitrary-length password to a fixed 32-byte digest
// before bcrypt, so inputs longer than bcrypt's 72-byte limit still hash
// their full content.
func preHash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}
