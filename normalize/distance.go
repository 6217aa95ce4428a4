package normalize

import (
	"math"
	"regexp"
	"strconv"
)

// MaxDistanceKm is the sanity ceiling; anything above is treated as a
// mis-parse (usually a price or phone number picked up by accident).
const MaxDistanceKm = 1_000_000

var (
	spacedDigitsRegex = regexp.MustCompile(`(\d)[\s\x{00A0}\x{202F}\x{2009}]+(\d)`)
	milRegex          = regexp.MustCompile(`(?i)(\d+)(?:[.,](\d+))?\s*mil\b`)
	kmRegex           = regexp.MustCompile(`(?i)(\d+)(?:[.,](\d+))?\s*km\b`)
)

// ParseDistance parses mileage text into kilometres. A value in "mil"
// (10 km) is preferred over a "km" value when both appear. Decimal
// values ("12,5 mil") are rounded to the nearest kilometre.
func ParseDistance(s string) (int, bool) {
	s = joinSpacedDigits(s)
	s = stripThousandsSeparators(s)

	var km int
	if m := milRegex.FindStringSubmatch(s); m != nil {
		v, ok := unitValue(m, 10)
		if !ok {
			return 0, false
		}
		km = v
	} else if m := kmRegex.FindStringSubmatch(s); m != nil {
		v, ok := unitValue(m, 1)
		if !ok {
			return 0, false
		}
		km = v
	} else {
		run := digitRunRegex.FindString(s)
		if run == "" {
			return 0, false
		}
		v, err := strconv.Atoi(run)
		if err != nil {
			return 0, false
		}
		km = v
	}

	if km <= 0 || km > MaxDistanceKm {
		return 0, false
	}
	return km, true
}

// unitValue reads a whole part and an optional fraction from a unit match
// and scales it to kilometres.
func unitValue(m []string, scale float64) (int, bool) {
	num := m[1]
	if m[2] != "" {
		num += "." + m[2]
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(v * scale)), true
}

func joinSpacedDigits(s string) string {
	for {
		next := spacedDigitsRegex.ReplaceAllString(s, "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}
