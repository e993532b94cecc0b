// Package crypto implements server-side codeword hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for codeword hashing.
const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 2
	argonKeyLen  uint32 = 32

	// SaltLen is the per-user salt size.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashCodeword returns the Argon2id hash of codeword using the provided salt.
func HashCodeword(codeword, salt []byte) []byte {
	return argon2.IDKey(codeword, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyCodeword verifies codeword against the expected hash and salt.
func VerifyCodeword(codeword, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashCodeword(codeword, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
