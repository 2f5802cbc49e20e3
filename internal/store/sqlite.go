// Package store persists buddies and their conversations in a single SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"buddyline/internal/buddy"
	"buddyline/internal/conversation"
)

// FileName is the database file created under the data directory.
const FileName = "buddyline.db"

// SQLite stores buddy records and conversation documents as JSON rows.
type SQLite struct {
	db *sql.DB
}

var _ conversation.Persister = (*SQLite)(nil)

// Open opens (or creates) the database at dbPath and applies migrations.
func Open(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}
	return s, nil
}

// OpenDir opens FileName inside dataDir.
func OpenDir(dataDir string) (*SQLite, error) {
	return Open(filepath.Join(dataDir, FileName))
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SaveBuddy inserts or replaces a buddy record.
func (s *SQLite) SaveBuddy(ctx context.Context, b *buddy.Buddy) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode buddy %s: %w", b.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buddies (id, record, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		b.ID, string(data), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	return err
}

// GetBuddy returns nil, nil when no buddy has the id.
func (s *SQLite) GetBuddy(ctx context.Context, id string) (*buddy.Buddy, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM buddies WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b buddy.Buddy
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode buddy %s: %w", id, err)
	}
	return &b, nil
}

// ListBuddies returns every buddy in creation order.
func (s *SQLite) ListBuddies(ctx context.Context) ([]*buddy.Buddy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM buddies ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*buddy.Buddy
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var b buddy.Buddy
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode buddy %s: %w", id, err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// DeleteBuddy removes a buddy record. Unknown ids are not an error.
func (s *SQLite) DeleteBuddy(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM buddies WHERE id = ?`, id)
	return err
}

func (s *SQLite) LoadConversation(ctx context.Context, buddyID string) (*conversation.Conversation, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM conversations WHERE buddy_id = ?`, buddyID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c conversation.Conversation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", buddyID, err)
	}
	return &c, nil
}

func (s *SQLite) SaveConversation(ctx context.Context, c *conversation.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.BuddyID, err)
	}
	lastUpdated := c.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations (buddy_id, document, message_count, last_updated) VALUES (?, ?, ?, ?)`,
		c.BuddyID, string(data), c.MessageCount, lastUpdated.UTC(),
	)
	return err
}

func (s *SQLite) DeleteConversation(ctx context.Context, buddyID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE buddy_id = ?`, buddyID)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
