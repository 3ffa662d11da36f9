// Package integrity provides the checksum and at-rest encryption used for
// EEPROM backups.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data hashes to want. Comparison is case-insensitive
// and constant-time.
func Verify(data []byte, want string) bool {
	got := Digest(data)
	want = strings.ToLower(want)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
