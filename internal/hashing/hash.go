package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes the stable serialization of v. Payloads with the same
// content produce the same fingerprint regardless of key order.
func Fingerprint(v any) (string, error) {
	s, err := StableJSONStringify(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(s), nil
}
