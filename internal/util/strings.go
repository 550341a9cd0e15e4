package util

import "strings"

// SanitizeName lowercases s and keeps only characters that are safe in a
// directory or object key segment.
func SanitizeName(s string) string {
	s = strings.ToLower(s)

	var builder strings.Builder
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9', r == '-', r == '_', r == '.':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}

	out := strings.Trim(builder.String(), ".")
	if out == "" {
		return "unnamed"
	}
	return out
}

// FirstLine returns the first non-empty line of s, truncated to max runes.
func FirstLine(s string, max int) string {
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > max {
			return string(r[:max]) + "..."
		}
		return line
	}
	return ""
}
