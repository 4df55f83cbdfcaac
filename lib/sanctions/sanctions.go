// Package sanctions tracks per-user violation counts and escalates from
// warnings to temporary blocks. Updates to a single user's record are
// serialized through a per-user lock table, different users proceed in
// parallel. The backing store uses optimistic versioning, conflicts are
// retried with a fresh read up to a bounded count.
package sanctions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

// sentinel errors returned by Store implementations
var (
	ErrNotFound = errors.New("sanction record not found")
	ErrConflict = errors.New("sanction record version conflict")
)

// Record is the per-user moderation state. Created lazily on first violation,
// never deleted; warning count only grows, block state clears on expiry.
type Record struct {
	UserID       string    `json:"user_id"`
	WarningCount int       `json:"warning_count"`
	Blocked      bool      `json:"blocked"`
	LastWarning  time.Time `json:"last_warning"`
	BlockExpiry  time.Time `json:"block_expiry,omitzero"` // zero while not blocked, or indefinite block
	History      []string  `json:"history"`               // violation ids contributing to the count
	Version      int64     `json:"-"`                     // optimistic concurrency tag, managed by the store
}

// BlockedAt reports whether the record's block is active at the given time.
// A blocked record with zero expiry is an indefinite block.
func (r *Record) BlockedAt(now time.Time) bool {
	if !r.Blocked {
		return false
	}
	if r.BlockExpiry.IsZero() {
		return true
	}
	return now.Before(r.BlockExpiry)
}

// Store is an interface for the sanctions backing store.
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error) // ErrNotFound when absent
	Put(ctx context.Context, rec *Record) error              // ErrConflict on version mismatch
}

// Config is a set of parameters for Engine.
type Config struct {
	MaxWarnings    int           // warnings before a block, default 1000
	BlockDuration  time.Duration // how long a block lasts, default 24h
	StorageTimeout time.Duration // timeout for store operations, if not set - no timeout
	MaxAttempts    int           // attempts per store operation including conflict re-reads, default 3
	RetryDelay     time.Duration // delay between retries of transient store failures, default 50ms
}

// Engine applies progressive sanctions, thread-safe.
type Engine struct {
	Config
	store Store
	locks *keyedLocks
	now   func() time.Time
}

// NewEngine makes a new Engine with the given store and config.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = 1000
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	return &Engine{Config: cfg, store: store, locks: newKeyedLocks(), now: time.Now}
}

// HandleViolation records a violation for the user and returns whether the
// triggering message is allowed through. A currently blocked user gets false
// without any counter change. Otherwise the warning count is incremented and
// the user is blocked once it reaches MaxWarnings - the crossing message
// itself is suppressed. The count is not reset when a block lapses.
func (e *Engine) HandleViolation(ctx context.Context, userID, violationID string) (allowed bool, err error) {
	if userID == "" {
		return false, fmt.Errorf("empty user id")
	}
	e.locks.lock(userID)
	defer e.locks.unlock(userID)

	ctx, cancel := e.ctxWithStoreTimeout(ctx)
	defer cancel()

	// conflict means another process updated the record, re-read and redo
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		rec, err := e.load(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("failed to load sanction record for %s: %w", userID, err)
		}

		now := e.now()
		if rec.BlockedAt(now) {
			log.Printf("[INFO] user %s is blocked until %s, message suppressed", userID, rec.BlockExpiry.Format(time.RFC3339))
			return false, nil
		}

		rec.WarningCount++
		rec.History = append(rec.History, violationID)
		rec.LastWarning = now
		if rec.WarningCount >= e.MaxWarnings {
			rec.Blocked = true
			rec.BlockExpiry = now.Add(e.BlockDuration)
		} else {
			rec.Blocked = false
			rec.BlockExpiry = time.Time{}
		}

		putErr := repeater.NewFixed(e.MaxAttempts, e.RetryDelay).Do(ctx, func() error {
			return e.store.Put(ctx, rec)
		}, ErrConflict) // conflicts stop retries, a fresh read is needed instead
		if errors.Is(putErr, ErrConflict) {
			log.Printf("[DEBUG] conflict updating sanction record for %s, attempt %d", userID, attempt+1)
			continue
		}
		if putErr != nil {
			return false, fmt.Errorf("failed to store sanction record for %s: %w", userID, putErr)
		}

		if rec.Blocked {
			log.Printf("[INFO] user %s blocked after %d warnings, until %s",
				userID, rec.WarningCount, rec.BlockExpiry.Format(time.RFC3339))
		}
		return !rec.Blocked, nil
	}
	return false, fmt.Errorf("failed to update sanction record for %s: %w", userID, ErrConflict)
}

// ViolationCount returns the user's cumulative warning count, 0 for unknown users.
func (e *Engine) ViolationCount(ctx context.Context, userID string) (int, error) {
	ctx, cancel := e.ctxWithStoreTimeout(ctx)
	defer cancel()
	rec, err := e.load(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load sanction record for %s: %w", userID, err)
	}
	return rec.WarningCount, nil
}

// IsBlocked reports whether the user's block is currently active. A lapsed
// block reads as not blocked; the stored record is not mutated by the query,
// the transition happens on the next HandleViolation.
func (e *Engine) IsBlocked(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := e.ctxWithStoreTimeout(ctx)
	defer cancel()
	rec, err := e.load(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load sanction record for %s: %w", userID, err)
	}
	return rec.BlockedAt(e.now()), nil
}

// load reads the record with bounded retries, making a fresh one for unknown users
func (e *Engine) load(ctx context.Context, userID string) (*Record, error) {
	var rec *Record
	err := repeater.NewFixed(e.MaxAttempts, e.RetryDelay).Do(ctx, func() error {
		var gerr error
		rec, gerr = e.store.Get(ctx, userID)
		return gerr
	}, ErrNotFound) // absence is not transient, no point retrying
	if errors.Is(err, ErrNotFound) {
		return &Record{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) ctxWithStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.StorageTimeout == 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.StorageTimeout)
}
