package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// CodeAlphabet excludes the ambiguous glyphs 0, O, 1 and I.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// CodeLength is the number of characters in a pairing code.
	CodeLength = 6

	// maxCodeRetries bounds regeneration after a collision with a live code.
	maxCodeRetries = 10
)

// generateCode returns a random code drawn uniformly from CodeAlphabet.
// len(CodeAlphabet) divides 256, so the modulo carries no bias.
func generateCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code), nil
}

// ValidCode reports whether s has the shape of a pairing code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(CodeAlphabet, c) {
			return false
		}
	}
	return true
}
