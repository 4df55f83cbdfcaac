package filter

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// minContainmentLen is the shortest variant allowed to match as a substring.
// Shorter variants, like the 1-char abbreviation of "you", show up inside
// almost any token and would flag everything.
const minContainmentLen = 3

// findMatches scans normalized text tokens against the word set and returns
// matched tokens, de-duplicated, in first-seen order.
func (d *Detector) findMatches(normalized string, words map[string]struct{}) []string {
	if len(words) == 0 || normalized == "" {
		return nil
	}

	var res []string
	seen := map[string]struct{}{}
	for _, token := range strings.Fields(normalized) {
		if _, dup := seen[token]; dup {
			continue
		}
		if d.matchToken(token, words) {
			seen[token] = struct{}{}
			res = append(res, token)
		}
	}

	// spacing tricks split a word across tokens, so spaced-out variants are
	// matched against the message as a whole, on token boundaries
	padded := " " + normalized + " "
	for word := range words {
		if _, dup := seen[word]; dup {
			continue
		}
		for _, variant := range d.variants.variantsOf(word) {
			if strings.Contains(variant, " ") && strings.Contains(padded, " "+variant+" ") {
				seen[word] = struct{}{}
				res = append(res, word)
				break
			}
		}
	}
	return res
}

// matchToken checks a single token against the word set: exact membership
// first, then variant equality and asymmetric containment, with an optional
// similarity pass against every variant.
func (d *Detector) matchToken(token string, words map[string]struct{}) bool {
	if _, ok := words[token]; ok {
		return true
	}

	// stretched repeats ("stuuupid") reduce to the canonical form
	collapsed := collapseRepeats(token)
	if collapsed != token {
		if _, ok := words[collapsed]; ok {
			return true
		}
	}

	for word := range words {
		for _, variant := range d.variants.variantsOf(word) {
			if token == variant || collapsed == variant {
				return true
			}
			// containment requires the token to be strictly longer than the
			// variant, and the variant long enough to be meaningful
			if len(variant) >= minContainmentLen && len(token) > len(variant) && strings.Contains(token, variant) {
				return true
			}
			if d.SimilarityThreshold > 0 && similarity(token, variant) >= d.SimilarityThreshold {
				return true
			}
		}
	}
	return false
}

// similarity is the normalized Levenshtein ratio: share of the longer
// string's length that survives the minimal edit alignment.
func similarity(s1, s2 string) float64 {
	longer := len([]rune(s1))
	if l2 := len([]rune(s2)); l2 > longer {
		longer = l2
	}
	if longer == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(s1, s2)
	return float64(longer-dist) / float64(longer)
}
