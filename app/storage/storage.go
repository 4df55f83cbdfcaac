// Package storage provides backing stores for the moderation core: a sqlite
// engine (via sqlx) for word lists, sanction records and the violations log,
// plus a file-based lexicon store with filesystem-notification live reload.
// Each table is represented by a struct with the business methods for its
// data type.
package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// NewSqliteDB opens (or creates) a sqlite database file
func NewSqliteDB(file string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db %s: %w", file, err)
	}
	return db, nil
}
