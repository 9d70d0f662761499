// Package sqlitestore keeps conversation records in SQLite. It backs the
// server's record intake endpoint and works as a local RecordStore.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/haowjy/meridian-aisearch-go"
)

// Store implements aisearch.RecordStore using SQLite. Records are keyed by
// conversation id; storing an id twice keeps the first record and returns
// its record id again.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (and migrates) the database at dsn, e.g. "file:records.db" or ":memory:".
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS records (
			record_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			local_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			answer TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store inserts rec unless its conversation id is already present.
func (s *Store) Store(ctx context.Context, rec *aisearch.Record) (*aisearch.StoreResult, error) {
	if rec == nil || rec.ConversationID == "" {
		return nil, &aisearch.ValidationError{Field: "conversation_id", Value: "", Reason: "must not be empty"}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (record_id, conversation_id, local_id, user_id, query, answer, elapsed_ms, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO NOTHING`,
		uuid.NewString(), rec.ConversationID, rec.LocalID, rec.User, rec.Query, rec.Answer,
		rec.Elapsed.Milliseconds(), string(payload), s.now().UTC())
	if err != nil {
		return nil, &aisearch.StoreError{Store: "sqlite", Message: err.Error(), Retryable: true, Err: aisearch.ErrStoreUnavailable}
	}

	var recordID string
	err = s.db.QueryRowContext(ctx,
		`SELECT record_id FROM records WHERE conversation_id = ?`, rec.ConversationID).Scan(&recordID)
	if err != nil {
		return nil, &aisearch.StoreError{Store: "sqlite", Message: err.Error(), Retryable: true, Err: aisearch.ErrStoreUnavailable}
	}

	return &aisearch.StoreResult{Accepted: true, ID: recordID}, nil
}

// Get returns the record stored for conversationID, or nil if there is none.
func (s *Store) Get(ctx context.Context, conversationID string) (*aisearch.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE conversation_id = ?`, conversationID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec aisearch.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", conversationID, err)
	}
	return &rec, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListByUser returns the most recent records for user, newest first.
func (s *Store) ListByUser(ctx context.Context, user string, limit int) ([]*aisearch.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*aisearch.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec aisearch.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
