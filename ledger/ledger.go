// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package ledger provides persisted counters keyed by scope.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BoostyLabs/chimera/errs"
)

// GlobalScope defines the scope shared by all users.
const GlobalScope = "global"

// ErrInvalidCounter defines empty scope or counter name.
var ErrInvalidCounter = errors.New("invalid counter")

// UserScope returns the scope of the user address.
func UserScope(address string) string {
	return "user:" + address
}

// Store provides atomic counter increments.
type Store interface {
	// Increment adds delta to the counter, creating it if absent.
	Increment(ctx context.Context, scope, name string, delta int64) error
	// Get returns counter value, zero if absent.
	Get(ctx context.Context, scope, name string) (int64, error)
	// Counters returns all counters of the scope.
	Counters(ctx context.Context, scope string) (map[string]int64, error)
}

// ensures that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file and creates counters table if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS counters (
		scope TEXT NOT NULL,
		name TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, name)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Increment adds delta to the counter with a single upsert statement.
func (s *SQLiteStore) Increment(ctx context.Context, scope, name string, delta int64) error {
	if err := validate(scope, name); err != nil {
		return err
	}

	query := `
	INSERT INTO counters (scope, name, value) VALUES (?, ?, ?)
	ON CONFLICT (scope, name) DO UPDATE SET value = value + excluded.value;
	`
	_, err := s.db.ExecContext(ctx, query, scope, name, delta)
	return errs.Wrap(errs.ExternalService, err)
}

// Get returns counter value, zero if absent.
func (s *SQLiteStore) Get(ctx context.Context, scope, name string) (int64, error) {
	if err := validate(scope, name); err != nil {
		return 0, err
	}

	query := `SELECT value FROM counters WHERE scope = ? AND name = ?;`

	var value int64
	err := s.db.QueryRowContext(ctx, query, scope, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return value, errs.Wrap(errs.ExternalService, err)
}

// Counters returns all counters of the scope.
func (s *SQLiteStore) Counters(ctx context.Context, scope string) (map[string]int64, error) {
	if strings.TrimSpace(scope) == "" {
		return nil, errs.Wrap(errs.InputValidation, ErrInvalidCounter)
	}

	query := `SELECT name, value FROM counters WHERE scope = ? ORDER BY name;`
	rows, err := s.db.QueryContext(ctx, query, scope)
	if err != nil {
		return nil, errs.Wrap(errs.ExternalService, err)
	}
	defer func() { _ = rows.Close() }()

	counters := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err = rows.Scan(&name, &value); err != nil {
			return nil, errs.Wrap(errs.ExternalService, err)
		}

		counters[name] = value
	}

	return counters, errs.Wrap(errs.ExternalService, rows.Err())
}

func validate(scope, name string) error {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(name) == "" {
		return errs.Wrap(errs.InputValidation, ErrInvalidCounter)
	}

	return nil
}
