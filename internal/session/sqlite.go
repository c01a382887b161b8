package session

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation TEXT    NOT NULL,
	role         TEXT    NOT NULL,
	name         TEXT    NOT NULL DEFAULT '',
	content      TEXT    NOT NULL,
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation, id);`

// SQLiteStore keeps every conversation in a single SQLite database.
// Row ids preserve insertion order.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger.With("component", "history")}, nil
}

// Load returns the conversation's turns, oldest first.
func (s *SQLiteStore) Load(key string) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, name, content, created_at
		FROM turns
		WHERE conversation = ?
		ORDER BY id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var (
			t         Turn
			createdAt string
		)
		if err := rows.Scan(&t.Role, &t.Name, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// Append adds turns to the end of the conversation.
func (s *SQLiteStore) Append(key string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := insertTurns(tx, key, turns); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Replace overwrites the conversation in one transaction.
func (s *SQLiteStore) Replace(key string, turns []Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation = ?`, key); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete turns: %w", err)
	}
	if err := insertTurns(tx, key, turns); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Trim drops the n oldest turns.
func (s *SQLiteStore) Trim(key string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM turns WHERE id IN (
			SELECT id FROM turns WHERE conversation = ? ORDER BY id ASC LIMIT ?
		)`, key, n)
	if err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}
	return nil
}

// Clear removes every turn of the conversation.
func (s *SQLiteStore) Clear(key string) error {
	if _, err := s.db.Exec(`DELETE FROM turns WHERE conversation = ?`, key); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

// List returns information about all stored conversations.
func (s *SQLiteStore) List() ([]Info, error) {
	rows, err := s.db.Query(`
		SELECT conversation, COUNT(*), MIN(created_at), MAX(created_at)
		FROM turns
		GROUP BY conversation
		ORDER BY conversation`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info             Info
			created, updated string
		)
		if err := rows.Scan(&info.Key, &info.TurnCount, &created, &updated); err != nil {
			s.logger.Warn("skipping unreadable conversation row", "error", err)
			continue
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func insertTurns(tx *sql.Tx, key string, turns []Turn) error {
	stmt, err := tx.Prepare(`
		INSERT INTO turns (conversation, role, name, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range turns {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(key, t.Role, t.Name, t.Content, ts.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}

// Compile-time interface verification.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
