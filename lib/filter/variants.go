package filter

import (
	"strings"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// charSubstitutions is the leetspeak table, each letter to its common
// substitute characters. One substitution per generated variant, single
// position only - no combinatorial expansion across positions.
var charSubstitutions = map[rune][]rune{
	'a': {'4', '@'},
	'e': {'3'},
	'i': {'1', '!'},
	'o': {'0'},
	's': {'5', '$'},
	't': {'7'},
	'l': {'1'},
	'b': {'8'},
	'g': {'9'},
	'z': {'2'},
}

// wordAbbreviations holds curated shorthand variants for exact words
var wordAbbreviations = map[string][]string{
	"you":     {"u", "yu"},
	"are":     {"r", "ur"},
	"why":     {"y"},
	"your":    {"ur", "yr"},
	"please":  {"plz", "pls"},
	"because": {"cuz", "bcuz", "bc"},
}

// variantCache memoizes generated variant sets per lexicon word.
// Variants are recomputed on every classification otherwise, and the word
// lists grow over time, so an LRU with TTL keeps the hot set cheap while
// still picking up removed words eventually.
type variantCache struct {
	cache cache.Cache[string, []string]
}

func newVariantCache() *variantCache {
	const maxWords = 10000
	return &variantCache{
		cache: cache.NewCache[string, []string]().WithMaxKeys(maxWords).WithTTL(time.Hour),
	}
}

// variantsOf returns all obfuscated surface forms of a lexicon word,
// deterministic first-seen order, the word itself always first.
func (v *variantCache) variantsOf(word string) []string {
	if res, ok := v.cache.Get(word); ok {
		return res
	}
	res := generateVariants(word)
	v.cache.Set(word, res, 0)
	return res
}

func generateVariants(word string) []string {
	seen := map[string]struct{}{}
	res := []string{}
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		res = append(res, s)
	}

	add(word)

	for _, abbr := range wordAbbreviations[word] {
		add(abbr)
	}

	// single-position character substitutions; non-alphanumeric substitutes
	// get erased by message normalization, so the erased rendering is a
	// variant too ("stup!d" arrives as "stupd")
	runes := []rune(word)
	for i, r := range runes {
		for _, sub := range charSubstitutions[r] {
			v := string(runes[:i]) + string(sub) + string(runes[i+1:])
			add(v)
			add(stripNonAlnum(v))
		}
	}

	add(collapseRepeats(word))

	// spelled out with spaces between characters; whitespace is the only
	// separator surviving normalization, dots and dashes collapse the word
	// back into a single token
	chars := make([]string, len(runes))
	for i, r := range runes {
		chars[i] = string(r)
	}
	add(strings.Join(chars, " "))

	return res
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// collapseRepeats collapses runs of the same character to a single one,
// i.e. "coool" -> "col"
func collapseRepeats(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	var prev rune = -1
	for _, r := range word {
		if r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}
