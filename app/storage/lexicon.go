package storage

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver loaded here

	"github.com/avoro/chat-guard/lib/modcheck"
)

// Lexicon is a sqlite-backed store for categorized word lists, one word per
// row. Implements the lexicon backing store interface including the change
// feed: every Put notifies all live subscribers of the category.
type Lexicon struct {
	db   *sqlx.DB
	lock *sync.RWMutex

	subs struct {
		sync.Mutex
		chans map[modcheck.Category][]chan []string
	}
}

// NewLexicon creates a new Lexicon storage
func NewLexicon(db *sqlx.DB) (*Lexicon, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}

	// create schema in a single transaction
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	schema := `
        CREATE TABLE IF NOT EXISTS lexicon (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
            category TEXT CHECK (category IN ('bully_words', 'sexual_harassment_words', 'bad_words')),
            word TEXT NOT NULL,
            UNIQUE(category, word)
        );
        CREATE INDEX IF NOT EXISTS idx_lexicon_category ON lexicon(category);
    `
	if _, err = tx.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	res := &Lexicon{db: db, lock: &sync.RWMutex{}}
	res.subs.chans = map[modcheck.Category][]chan []string{}
	return res, nil
}

// Get reads all words for the category
func (l *Lexicon) Get(ctx context.Context, category modcheck.Category) ([]string, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}

	l.lock.RLock()
	defer l.lock.RUnlock()

	var words []string
	query := `SELECT word FROM lexicon WHERE category = ? ORDER BY id`
	if err := l.db.SelectContext(ctx, &words, query, category); err != nil {
		return nil, fmt.Errorf("failed to get words for %s: %w", category, err)
	}
	return words, nil
}

// Put fully replaces the category's word list and notifies subscribers.
// Empty entries are skipped, not fatal.
func (l *Lexicon) Put(ctx context.Context, category modcheck.Category, words []string) error {
	if err := category.Validate(); err != nil {
		return err
	}

	l.lock.Lock()
	err := func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err = tx.ExecContext(ctx, `DELETE FROM lexicon WHERE category = ?`, category); err != nil {
			return fmt.Errorf("failed to remove old words: %w", err)
		}

		insertStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO lexicon (category, word) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer insertStmt.Close()

		for _, word := range words {
			if word == "" { // skip malformed entries
				continue
			}
			if _, err = insertStmt.ExecContext(ctx, category, word); err != nil {
				return fmt.Errorf("failed to add word %q: %w", word, err)
			}
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}()
	l.lock.Unlock()

	if err != nil {
		return err
	}

	l.notify(category, words)
	return nil
}

// Subscribe returns a channel delivering the full word list on every change
// of the category. The subscription is released when ctx is canceled.
func (l *Lexicon) Subscribe(ctx context.Context, category modcheck.Category) (<-chan []string, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}

	ch := make(chan []string, 1)
	l.subs.Lock()
	l.subs.chans[category] = append(l.subs.chans[category], ch)
	l.subs.Unlock()

	go func() {
		<-ctx.Done()
		l.subs.Lock()
		defer l.subs.Unlock()
		chans := l.subs.chans[category]
		for i, c := range chans {
			if c == ch {
				l.subs.chans[category] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}()

	return ch, nil
}

// notify delivers the update to all subscribers, replacing a pending one if
// the subscriber hasn't consumed it yet - only the latest state matters
func (l *Lexicon) notify(category modcheck.Category, words []string) {
	l.subs.Lock()
	defer l.subs.Unlock()
	for _, ch := range l.subs.chans[category] {
		select {
		case ch <- words:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- words:
			default:
			}
		}
	}
}

// LexiconStats returns word counts per category
type LexiconStats struct {
	BullyWords      int `db:"bully_count"`
	HarassmentWords int `db:"harassment_count"`
	ProfanityWords  int `db:"profanity_count"`
}

// String returns a string representation of the stats
func (s *LexiconStats) String() string {
	return fmt.Sprintf("bully: %d, harassment: %d, profanity: %d",
		s.BullyWords, s.HarassmentWords, s.ProfanityWords)
}

// Stats returns statistics about lexicon entries
func (l *Lexicon) Stats(ctx context.Context) (*LexiconStats, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	query := `
        SELECT
            COUNT(CASE WHEN category = 'bully_words' THEN 1 END) as bully_count,
            COUNT(CASE WHEN category = 'sexual_harassment_words' THEN 1 END) as harassment_count,
            COUNT(CASE WHEN category = 'bad_words' THEN 1 END) as profanity_count
        FROM lexicon`

	var stats LexiconStats
	if err := l.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	log.Printf("[DEBUG] lexicon stats: %s", &stats)
	return &stats, nil
}
