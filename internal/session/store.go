package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    token      TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// Store persists the session credential across runs in a single-file
// SQLite database, the CLI analog of the browser's local storage.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the session database.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("session: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Token returns the persisted credential, or "" when none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token FROM session WHERE id = 1`)
	var token string
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// SaveToken stores or replaces the credential.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("session: token is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, token, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, time.Now().UTC(),
	)
	return err
}

// ClearToken removes the persisted credential.
func (s *Store) ClearToken(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`)
	return err
}
