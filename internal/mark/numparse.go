package mark

import (
	"regexp"
	"strconv"
	"strings"
)

// reExpo matches hand-written scientific notation like "1.602 x 10^19".
// It is deliberately permissive: optional sign, optional spaces anywhere,
// mantissa as 4 / 4. / 4.3 / .3 (comma accepted as the decimal separator,
// but not a bare "." or ","), an x/X/* multiplier, then 10^exponent with
// the exponent optionally signed and optionally parenthesized.
var reExpo = regexp.MustCompile(
	`^ *((?:[+-]? *[0-9]+(?:[.,][0-9]*)?)|(?:[+-]? *[.,][0-9]+)) *[xX*] *10 *\^ *(?:([+-]? *[0-9]+)|\( *([+-]? *[0-9]+) *\)) *$`)

// ParseExpo interprets input like "1.602 x 10^19" and returns the
// reformatted string ("1.602e19"), its float value, and whether the input
// matched. Non-matching input comes back unchanged with ok=false.
func ParseExpo(s string) (string, float64, bool) {
	m := reExpo.FindStringSubmatch(s)
	if m == nil {
		return s, 0, false
	}
	mantissa := strings.ReplaceAll(strings.ReplaceAll(m[1], " ", ""), ",", ".")
	expo := m[2]
	if expo == "" {
		expo = m[3]
	}
	expo = strings.ReplaceAll(expo, " ", "")
	news := mantissa + "e" + expo
	f, err := strconv.ParseFloat(news, 64)
	if err != nil {
		return s, 0, false
	}
	return news, f, true
}

// ParseGuess tries hard to read a student guess as a number: plain float
// first, then hand-written scientific notation, then comma-as-decimal form.
// NaN/inf spellings are rejected so they can't poison comparisons. A guess
// that survives none of these is simply not numeric, which is not an error.
func ParseGuess(s string) (float64, bool) {
	if strings.Contains(s, "NaN") || strings.Contains(s, "inf") {
		return 0, false
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f, true
	}
	if _, f, ok := ParseExpo(s); ok {
		return f, true
	}
	// Occasionally people use , instead of . which is common in Europe.
	if f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64); err == nil {
		return f, true
	}
	return 0, false
}

// parseValue reads a variation/script value as a float where possible.
func parseValue(val any) (float64, bool) {
	switch t := val.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return ParseGuess(t)
	default:
		return 0, false
	}
}
