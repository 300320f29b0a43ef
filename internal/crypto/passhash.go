// Package crypto implements password hashing for stored account credentials.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// Stored salts and hashes are opaque strings on the account node.
var encoding = base64.RawStdEncoding

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword verifies password against expected Argon2id hash and salt.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// NewSaltedHash draws a fresh salt and returns it with the password hash,
// both in their stored text form.
func NewSaltedHash(password string) (salt, hash string, err error) {
	raw, err := RandBytes(saltLen)
	if err != nil {
		return "", "", err
	}
	sum := HashPassword([]byte(password), raw)
	return encoding.EncodeToString(raw), encoding.EncodeToString(sum), nil
}

// VerifyEncoded checks password against stored salt and hash strings.
// Malformed stored values never verify.
func VerifyEncoded(password, salt, hash string) bool {
	rawSalt, err := encoding.DecodeString(salt)
	if err != nil || len(rawSalt) == 0 {
		return false
	}
	expected, err := encoding.DecodeString(hash)
	if err != nil || len(expected) == 0 {
		return false
	}
	return VerifyPassword([]byte(password), rawSalt, expected)
}
