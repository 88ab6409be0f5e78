package pairscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameRunes   = 64
	maxSymbolRunes = 11
)

// IsTypicalString reports whether s reads like a human-chosen token name:
// letters, digits, single inner spaces and a little punctuation, with at
// least one letter.
func IsTypicalString(s string) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 || n > maxNameRunes {
		return false
	}
	if strings.TrimSpace(s) != s || strings.Contains(s, "  ") {
		return false
	}
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r), unicode.IsMark(r), r == ' ':
		case strings.ContainsRune("-_.'&()+:", r):
		default:
			return false
		}
	}
	return letters > 0
}

// IsSymbol reports whether s reads like a ticker: short, no whitespace,
// letters and digits plus a few marker characters.
func IsSymbol(s string) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 || n > maxSymbolRunes {
		return false
	}
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r), unicode.IsMark(r):
		case strings.ContainsRune("$.-_+", r):
		default:
			return false
		}
	}
	return letters > 0
}
