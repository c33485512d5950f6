package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mcoot/tilerush/internal/model"
)

// SanitizeChat strips control characters and surrounding space and checks the length
func SanitizeChat(msg string, maxRunes int) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, msg)
	cleaned = strings.TrimSpace(cleaned)

	n := utf8.RuneCountInString(cleaned)
	if n == 0 {
		return "", model.NewValidationError("message", "must not be empty")
	}
	if n > maxRunes {
		return "", model.NewValidationError("message", "too long")
	}
	return cleaned, nil
}
