package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Hash returns the lowercase hex SHA-256 of the trimmed, lowercased value,
// or "" for an empty value.
func Hash(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// HashEmail normalises and hashes an email address.
func HashEmail(email string) string { return Hash(email) }

// HashPhone keeps digits only and prefixes 10-digit US numbers with 1.
func HashPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return Hash(digits)
}

// HashName collapses inner whitespace before hashing.
func HashName(name string) string {
	return Hash(strings.Join(strings.Fields(name), " "))
}
