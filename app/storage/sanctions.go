package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver loaded here

	"github.com/avoro/chat-guard/lib/sanctions"
)

// Sanctions is a sqlite-backed store for per-user sanction records with
// optimistic concurrency: every successful update bumps the version, an
// update against a stale version reports sanctions.ErrConflict.
type Sanctions struct {
	db   *sqlx.DB
	lock *sync.RWMutex
}

// sanctionRow is the db representation of sanctions.Record
type sanctionRow struct {
	UserID       string       `db:"user_id"`
	WarningCount int          `db:"warning_count"`
	Blocked      bool         `db:"blocked"`
	LastWarning  sql.NullTime `db:"last_warning"`
	BlockExpiry  sql.NullTime `db:"block_expiry"`
	History      string       `db:"history"` // json list of violation ids
	Version      int64        `db:"version"`
}

// NewSanctions creates a new Sanctions storage
func NewSanctions(db *sqlx.DB) (*Sanctions, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}

	schema := `
        CREATE TABLE IF NOT EXISTS sanctions (
            user_id TEXT PRIMARY KEY,
            warning_count INTEGER NOT NULL DEFAULT 0,
            blocked BOOLEAN NOT NULL DEFAULT 0,
            last_warning TIMESTAMP,
            block_expiry TIMESTAMP,
            history TEXT NOT NULL DEFAULT '[]',
            version INTEGER NOT NULL DEFAULT 1
        );
        CREATE INDEX IF NOT EXISTS idx_sanctions_blocked ON sanctions(blocked);
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create sanctions table: %w", err)
	}
	return &Sanctions{db: db, lock: &sync.RWMutex{}}, nil
}

// Get reads the user's sanction record, sanctions.ErrNotFound when absent
func (s *Sanctions) Get(ctx context.Context, userID string) (*sanctions.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var row sanctionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sanctions WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sanctions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sanction record: %w", err)
	}

	rec := &sanctions.Record{
		UserID:       row.UserID,
		WarningCount: row.WarningCount,
		Blocked:      row.Blocked,
		Version:      row.Version,
	}
	if row.LastWarning.Valid {
		rec.LastWarning = row.LastWarning.Time
	}
	if row.BlockExpiry.Valid {
		rec.BlockExpiry = row.BlockExpiry.Time
	}
	if err := json.Unmarshal([]byte(row.History), &rec.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history for %s: %w", userID, err)
	}
	return rec, nil
}

// Put saves the record. A record with zero version is inserted as new, any
// other version must match the stored one or sanctions.ErrConflict is
// returned. On success the record's version is advanced in place.
func (s *Sanctions) Put(ctx context.Context, rec *sanctions.Record) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid sanction record")
	}

	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if rec.Version == 0 { // new record, insert fails if someone beat us to it
		query := `INSERT OR IGNORE INTO sanctions (user_id, warning_count, blocked, last_warning, block_expiry, history, version)
            VALUES (?, ?, ?, ?, ?, ?, 1)`
		res, err := s.db.ExecContext(ctx, query, rec.UserID, rec.WarningCount, rec.Blocked,
			nullTime(rec.LastWarning), nullTime(rec.BlockExpiry), string(history))
		if err != nil {
			return fmt.Errorf("failed to insert sanction record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return sanctions.ErrConflict
		}
		rec.Version = 1
		return nil
	}

	query := `UPDATE sanctions SET warning_count = ?, blocked = ?, last_warning = ?, block_expiry = ?,
        history = ?, version = version + 1 WHERE user_id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query, rec.WarningCount, rec.Blocked,
		nullTime(rec.LastWarning), nullTime(rec.BlockExpiry), string(history), rec.UserID, rec.Version)
	if err != nil {
		return fmt.Errorf("failed to update sanction record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return sanctions.ErrConflict
	}
	rec.Version++
	return nil
}

// Blocked returns all records with an active block flag, most recent first
func (s *Sanctions) Blocked(ctx context.Context) ([]sanctions.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var rows []sanctionRow
	query := `SELECT * FROM sanctions WHERE blocked = 1 ORDER BY last_warning DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get blocked users: %w", err)
	}

	res := make([]sanctions.Record, 0, len(rows))
	for _, row := range rows {
		rec := sanctions.Record{
			UserID:       row.UserID,
			WarningCount: row.WarningCount,
			Blocked:      row.Blocked,
			Version:      row.Version,
		}
		if row.LastWarning.Valid {
			rec.LastWarning = row.LastWarning.Time
		}
		if row.BlockExpiry.Valid {
			rec.BlockExpiry = row.BlockExpiry.Time
		}
		_ = json.Unmarshal([]byte(row.History), &rec.History) // bad history is not fatal for listing
		res = append(res, rec)
	}
	return res, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
