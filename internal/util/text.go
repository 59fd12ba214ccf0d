package util

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// CollapseWhitespace squeezes runs of horizontal whitespace into one space and
// limits blank lines to one.
func CollapseWhitespace(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = reSpaces.ReplaceAllString(value, " ")
	value = reNewlines.ReplaceAllString(value, "\n\n")
	return strings.TrimSpace(value)
}

// IsNumeric reports whether value looks like a number, a percentage or an
// amount with thousands separators.
func IsNumeric(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	digits := 0
	for _, r := range value {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+-.,%/:$€£ ", r):
		default:
			return false
		}
	}
	return digits > 0
}

// Truncate cuts value to at most n runes.
func Truncate(value string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(value)
	if len(r) <= n {
		return value
	}
	return string(r[:n])
}
