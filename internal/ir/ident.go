package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdent returns the canonical form of an alias or variable name:
// surrounding whitespace trimmed and NFC normalized, so that visually
// identical names typed with different code point sequences compare equal.
// Case is preserved; identifiers are case-sensitive.
func NormalizeIdent(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
