package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"relay/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id  INTEGER PRIMARY KEY CHECK (id = 1),
	doc TEXT NOT NULL
);`

// Store keeps each conversation as a JSON document in a SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer; the store above already serializes mutations
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LoadConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LoadConversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlite: LoadConversations scan: %w", err)
		}
		var c domain.Conversation
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("sqlite: LoadConversations decode: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveConversation(ctx context.Context, c domain.Conversation) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: SaveConversation encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		c.ID, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: SaveConversation: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (domain.AppSettings, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM settings WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AppSettings{}, false, nil
	}
	if err != nil {
		return domain.AppSettings{}, false, fmt.Errorf("sqlite: LoadSettings: %w", err)
	}
	var a domain.AppSettings
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return domain.AppSettings{}, false, fmt.Errorf("sqlite: LoadSettings decode: %w", err)
	}
	return a, true, nil
}

func (s *Store) SaveSettings(ctx context.Context, a domain.AppSettings) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlite: SaveSettings encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, doc) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, string(doc))
	if err != nil {
		return fmt.Errorf("sqlite: SaveSettings: %w", err)
	}
	return nil
}
