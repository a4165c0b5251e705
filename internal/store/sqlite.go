// Package store persists profile state: the full trader input set keyed by a
// profile identifier. The engine is agnostic to the medium; both stores
// return (nil, nil) when no prior state exists so defaults apply.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"margin_sim/internal/core"
	apperrors "margin_sim/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	checksum BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// NewProfileID mints a fresh profile identifier.
func NewProfileID() string {
	return uuid.NewString()
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, id string, state *core.ProfileState) error {
	if id == "" {
		return fmt.Errorf("profile id must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	// Validate JSON (round-trip test)
	var testState core.ProfileState
	if err := json.Unmarshal(data, &testState); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	// Save with checksum
	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO profiles (id, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query, id, string(data), checksum[:], time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write profile to db: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadProfile(ctx context.Context, id string) (*core.ProfileState, error) {
	query := `SELECT data, checksum FROM profiles WHERE id = ?`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile from db: %w", err)
	}

	computedChecksum := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computedChecksum) {
		return nil, fmt.Errorf("%w: checksum length mismatch", apperrors.ErrProfileCorrupt)
	}
	for i := range computedChecksum {
		if storedChecksum[i] != computedChecksum[i] {
			return nil, fmt.Errorf("%w: checksum verification failed", apperrors.ErrProfileCorrupt)
		}
	}

	var state core.ProfileState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrProfileCorrupt, err)
	}

	return &state, nil
}

// ListProfiles returns the stored profile ids, most recently updated first.
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
