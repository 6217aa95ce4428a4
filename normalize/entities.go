package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var namedEntities = map[string]string{
	"amp":    "&",
	"lt":     "<",
	"gt":     ">",
	"quot":   `"`,
	"apos":   "'",
	"nbsp":   "\u00a0",
	"auml":   "ä",
	"ouml":   "ö",
	"aring":  "å",
	"Auml":   "Ä",
	"Ouml":   "Ö",
	"Aring":  "Å",
	"eacute": "é",
	"Eacute": "É",
	"uuml":   "ü",
	"Uuml":   "Ü",
	"oslash": "ø",
	"aelig":  "æ",
	"euro":   "€",
	"ndash":  "\u2013",
	"mdash":  "\u2014",
	"hellip": "…",
	"copy":   "©",
	"reg":    "®",
	"trade":  "™",
	"times":  "×",
	"deg":    "°",
	"laquo":  "«",
	"raquo":  "»",
	"rsquo":  "’",
	"lsquo":  "‘",
	"rdquo":  "”",
	"ldquo":  "“",
}

var (
	namedEntityRegex   = regexp.MustCompile(`&([A-Za-z]+);`)
	decimalEntityRegex = regexp.MustCompile(`&#([0-9]{1,7});`)
	hexEntityRegex     = regexp.MustCompile(`&#[xX]([0-9A-Fa-f]{1,6});`)
	whitespaceRegex    = regexp.MustCompile(`[\s\x{00A0}]+`)
)

// DecodeEntities resolves named, then decimal, then hexadecimal character
// references. Unknown names and invalid code points are left as-is.
func DecodeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	s = namedEntityRegex.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := namedEntities[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
	s = decimalEntityRegex.ReplaceAllStringFunc(s, func(m string) string {
		return codePoint(m, m[2:len(m)-1], 10)
	})
	s = hexEntityRegex.ReplaceAllStringFunc(s, func(m string) string {
		return codePoint(m, m[3:len(m)-1], 16)
	})
	return s
}

func codePoint(orig, digits string, base int) string {
	n, err := strconv.ParseInt(digits, base, 32)
	if err != nil || n <= 0 || n > 0x10FFFF || (n >= 0xD800 && n <= 0xDFFF) {
		return orig
	}
	return string(rune(n))
}

// CleanText decodes entities and collapses whitespace.
func CleanText(s string) string {
	s = DecodeEntities(s)
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}
