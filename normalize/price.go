// Package normalize holds the pure text and number normalizers used by the
// extractors: locale-aware price and distance parsing and entity decoding.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	currencyTokenRegex = regexp.MustCompile(`(?i)(kronor|sek|eur|usd|nok|dkk|kr\.?|pris|price|:-|,-|€|\$)`)
	digitRunRegex      = regexp.MustCompile(`\d+`)
)

// ParsePrice turns free-form price text ("623 750 SEK", "1.234,56 kr") into
// a whole-unit integer. ok is false for empty, zero, negative or
// unparseable input.
func ParsePrice(s string) (int, bool) {
	s = currencyTokenRegex.ReplaceAllString(s, " ")
	s = stripSpaces(s)
	s = stripThousandsSeparators(s)

	loc := digitRunRegex.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	if loc[0] > 0 && s[loc[0]-1] == '-' {
		return 0, false
	}

	v, err := strconv.Atoi(s[loc[0]:loc[1]])
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\u00a0' || r == '\u202f' || r == '\u2009'
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if isSpace(r) {
			return -1
		}
		return r
	}, s)
}

// stripThousandsSeparators drops '.' and ',' only when followed by exactly
// three digits, so "1.234,56" becomes "1234,56".
func stripThousandsSeparators(s string) string {
	b := []byte(s)
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if (c == '.' || c == ',') && i > 0 && isDigit(b[i-1]) && followedByThreeDigits(b, i+1) {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func followedByThreeDigits(b []byte, start int) bool {
	if start+3 > len(b) {
		return false
	}
	for j := start; j < start+3; j++ {
		if !isDigit(b[j]) {
			return false
		}
	}
	return start+3 == len(b) || !isDigit(b[start+3])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
