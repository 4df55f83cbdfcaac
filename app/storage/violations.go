package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/avoro/chat-guard/lib/modcheck"
)

// Violations is a storage for detected message violations, the caller-side
// persistent record of classifier verdicts.
type Violations struct {
	db *sqlx.DB
}

// ViolationInfo represents information about a detected violation.
type ViolationInfo struct {
	MsgID     string           `db:"msg_id"`
	UserID    string           `db:"user_id"`
	UserName  string           `db:"user_name"`
	Text      string           `db:"text"`
	Timestamp time.Time        `db:"timestamp"`
	FoundJSON string           `db:"found"` // store as JSON
	Verdict   modcheck.Verdict `db:"-"`     // don't store directly
}

// NewViolations creates a new Violations storage
func NewViolations(db *sqlx.DB) (*Violations, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS violations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        msg_id TEXT,
        user_id TEXT,
        user_name TEXT,
        text TEXT,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        found TEXT
    )`)
	if err != nil {
		return nil, fmt.Errorf("failed to create violations table: %w", err)
	}
	return &Violations{db: db}, nil
}

// Write adds a new violation entry
func (v *Violations) Write(ctx context.Context, entry ViolationInfo, verdict modcheck.Verdict) error {
	found, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	query := `INSERT INTO violations (msg_id, user_id, user_name, text, timestamp, found) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := v.db.ExecContext(ctx, query, entry.MsgID, entry.UserID, entry.UserName, entry.Text, entry.Timestamp, found); err != nil {
		return fmt.Errorf("failed to insert violation entry: %w", err)
	}

	log.Printf("[INFO] violation recorded for user_id:%s, name:%s, msg:%s", entry.UserID, entry.UserName, entry.MsgID)
	return nil
}

// Read returns the last n violation entries, most recent first
func (v *Violations) Read(ctx context.Context, n int) ([]ViolationInfo, error) {
	var entries []ViolationInfo
	query := `SELECT msg_id, user_id, user_name, text, timestamp, found FROM violations ORDER BY timestamp DESC, id DESC LIMIT ?`
	if err := v.db.SelectContext(ctx, &entries, query, n); err != nil {
		return nil, fmt.Errorf("failed to get violations: %w", err)
	}

	for i, entry := range entries {
		if err := json.Unmarshal([]byte(entry.FoundJSON), &entries[i].Verdict); err != nil {
			log.Printf("[WARN] can't unmarshal verdict for %s: %v", entry.MsgID, err)
		}
	}
	return entries, nil
}

// CountByUser returns the number of recorded violations for the user
func (v *Violations) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	if err := v.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM violations WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return count, nil
}
