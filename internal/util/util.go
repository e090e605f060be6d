package util

import (
	"strconv"
	"strings"
)

// Clamp01 clamps v to the [0,1] interval.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseFeatureValues extracts key=value numeric pairs from a free-form query,
// e.g. "recommend crop for N=90,P=42,ph=6.5". Keys are lowercased. Returns
// nil when the query carries no structured features.
func ParseFeatureValues(s string) map[string]float64 {
	var out map[string]float64
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		eq := strings.IndexByte(tok, '=')
		if eq <= 0 || eq == len(tok)-1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(tok[:eq]))
		val, err := strconv.ParseFloat(strings.Trim(tok[eq+1:], ".,!?:;"), 64)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string]float64)
		}
		out[key] = val
	}
	return out
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated
// (UTF-8 safe). If preserveWords is true, truncates at the last space before
// maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBeforeRune(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBeforeRune(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}
