// Package filter implements obfuscation-resistant message classification
// against the categorized lexicon: normalization, variant expansion of lexicon
// words (leetspeak, spacing, repetition tricks) and fuzzy token matching.
package filter

import (
	"log"

	"github.com/avoro/chat-guard/lib/modcheck"
)

// Detector classifies messages against the lexicon. Thread-safe: classification
// is a pure computation over an immutable lexicon snapshot, any number of
// concurrent Check calls may run without locking.
type Detector struct {
	Config
	lexicon  Lexicon
	variants *variantCache
}

// Config is a set of parameters for Detector.
type Config struct {
	// SimilarityThreshold enables the Levenshtein similarity fallback when
	// above zero, 0.8 means at most 20% of the longer string may differ.
	// Zero disables the pass; strict variant matching only. Enabling trades
	// extra recall for more false positives.
	SimilarityThreshold float64
}

// Lexicon provides the current word set per category. Returned sets are
// immutable snapshots.
type Lexicon interface {
	Words(category modcheck.Category) map[string]struct{}
}

// NewDetector makes a new Detector with the given lexicon and config.
func NewDetector(lexicon Lexicon, cfg Config) *Detector {
	return &Detector{Config: cfg, lexicon: lexicon, variants: newVariantCache()}
}

// Check classifies a message and returns the verdict across all categories.
// Never fails; an empty or uninitialized lexicon yields an all-false verdict.
func (d *Detector) Check(req modcheck.Request) modcheck.Verdict {
	verdict := modcheck.Verdict{Found: map[modcheck.Category][]string{}}
	if d.lexicon == nil {
		return verdict
	}

	normalized := Normalize(req.Msg)
	for _, cat := range modcheck.Categories() {
		matches := d.findMatches(normalized, d.lexicon.Words(cat))
		if len(matches) == 0 {
			continue
		}
		verdict.Found[cat] = matches
		switch cat {
		case modcheck.CategoryBully:
			verdict.Bully = true
		case modcheck.CategoryHarassment:
			verdict.Harassment = true
		case modcheck.CategoryProfanity:
			verdict.Profanity = true
		}
		log.Printf("[DEBUG] found %s terms %v in message from %s", cat, matches, req.UserID)
	}
	return verdict
}
