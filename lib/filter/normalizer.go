package filter

import (
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
)

// Normalize canonicalizes raw message text for matching: removes emoji,
// lowercases, strips everything outside [a-z0-9\s], collapses whitespace runs
// to single spaces and trims. Pure and idempotent, empty in - empty out.
func Normalize(text string) string {
	text = gomoji.RemoveEmojis(text)
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
