// Package lexicon manages the categorized word lists used by the classifier.
// The current state is kept as an immutable snapshot behind an atomic pointer,
// so concurrent readers never observe a partially applied update. The backing
// store is the only source of persistent truth; live changes arrive through
// per-category subscription channels.
package lexicon

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/avoro/chat-guard/lib/modcheck"
)

// Store is an interface for the lexicon backing store.
type Store interface {
	Get(ctx context.Context, category modcheck.Category) ([]string, error)
	Put(ctx context.Context, category modcheck.Category, words []string) error
	Subscribe(ctx context.Context, category modcheck.Category) (<-chan []string, error)
}

// Service owns the in-memory lexicon state. Thread-safe.
type Service struct {
	store    Store
	snapshot atomic.Pointer[snapshot]
	writeMu  sync.Mutex // serializes snapshot producers, readers are lock-free
}

type snapshot map[modcheck.Category]map[string]struct{}

// default word lists, used to seed empty categories on first load
var defaultWords = map[modcheck.Category][]string{
	modcheck.CategoryBully: {"loser", "stupid", "dumb", "idiot", "worthless", "ugly",
		"fat", "wimp", "failure", "pathetic", "weak", "coward"},
	modcheck.CategoryHarassment: {"inappropriate"},
	modcheck.CategoryProfanity:  {"inappropriate"},
}

// New creates a lexicon service with an empty snapshot.
// Call Load to populate it and Watch to keep it in sync with the store.
func New(store Store) *Service {
	res := &Service{store: store}
	empty := snapshot{}
	res.snapshot.Store(&empty)
	return res
}

// Load fetches all categories from the store and builds the initial snapshot.
// Empty categories are seeded with built-in defaults and written back. If the
// store is unreachable for a category, the built-in defaults are used in
// memory anyway - moderation degrades, it doesn't shut off.
func (s *Service) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	errs := new(multierror.Error)
	next := snapshot{}
	for _, cat := range modcheck.Categories() {
		words, err := s.store.Get(ctx, cat)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to load %s: %w", cat, err))
			next[cat] = makeSet(defaultWords[cat])
			log.Printf("[WARN] can't load %s from store, falling back to %d default words: %v",
				cat, len(defaultWords[cat]), err)
			continue
		}
		set := makeSet(words)
		if len(set) == 0 {
			set = makeSet(defaultWords[cat])
			if perr := s.store.Put(ctx, cat, setToList(set)); perr != nil {
				errs = multierror.Append(errs, fmt.Errorf("failed to seed defaults for %s: %w", cat, perr))
			}
			log.Printf("[INFO] seeded %s with %d default words", cat, len(set))
		}
		next[cat] = set
	}
	s.snapshot.Store(&next)
	return errs.ErrorOrNil()
}

// Watch subscribes to store change feeds for all categories and applies
// updates to the snapshot as they arrive. Blocks until ctx is canceled.
func (s *Service) Watch(ctx context.Context) error {
	// derived context releases already-made subscriptions if a later one fails
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chans := map[modcheck.Category]<-chan []string{}
	for _, cat := range modcheck.Categories() {
		ch, err := s.store.Subscribe(ctx, cat)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", cat, err)
		}
		chans[cat] = ch
	}

	var wg sync.WaitGroup
	for cat, ch := range chans {
		wg.Add(1)
		go func(cat modcheck.Category, ch <-chan []string) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case words, ok := <-ch:
					if !ok {
						return
					}
					s.apply(cat, makeSet(words))
					log.Printf("[DEBUG] %s updated from store, %d words", cat, len(words))
				}
			}
		}(cat, ch)
	}
	wg.Wait()
	log.Printf("[INFO] lexicon watcher stopped, %v", ctx.Err())
	return nil
}

// Words returns the current word set for the category. The returned map is a
// shared immutable snapshot and must not be mutated by the caller.
func (s *Service) Words(category modcheck.Category) map[string]struct{} {
	return (*s.snapshot.Load())[category]
}

// SetWords replaces the category's word list, persisting through the store
// first and swapping the snapshot on success.
func (s *Service) SetWords(ctx context.Context, category modcheck.Category, words []string) error {
	if err := category.Validate(); err != nil {
		return err
	}
	set := makeSet(words)
	if err := s.store.Put(ctx, category, setToList(set)); err != nil {
		return fmt.Errorf("failed to store %s: %w", category, err)
	}
	s.apply(category, set)
	return nil
}

// apply swaps in a new snapshot with the category replaced, copy-on-write
func (s *Service) apply(category modcheck.Category, set map[string]struct{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	curr := *s.snapshot.Load()
	next := make(snapshot, len(curr)+1)
	for c, w := range curr {
		next[c] = w
	}
	next[category] = set
	s.snapshot.Store(&next)
}

// makeSet lowercases and trims words, skipping empty or malformed entries
func makeSet(words []string) map[string]struct{} {
	res := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		res[w] = struct{}{}
	}
	return res
}

func setToList(set map[string]struct{}) []string {
	res := make([]string, 0, len(set))
	for w := range set {
		res = append(res, w)
	}
	sort.Strings(res)
	return res
}
