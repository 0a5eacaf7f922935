// Package tokencache persists OAuth2 tokens in a local SQLite database so
// a still-valid access token survives process restarts.
package tokencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store holds OAuth2 tokens keyed by account name.
type Store struct {
	db *sqlx.DB
}

// Entry is one persisted token record.
type Entry struct {
	Account      string    `db:"account"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Open opens (or creates) the token database at path, enables WAL mode,
// and runs any pending schema migrations. Parent directories are created
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating token cache directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening token cache db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the token record for an account. An empty refresh token
// preserves the previously stored one, since token endpoints only return
// a refresh token on the initial grant or on rotation.
func (s *Store) Save(ctx context.Context, account, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (account, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE
				WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token
				ELSE excluded.refresh_token
			END,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		account, accessToken, refreshToken, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving token for %s: %w", account, err)
	}
	return nil
}

// Load returns the stored token for an account, or nil when there is
// none.
func (s *Store) Load(ctx context.Context, account string) (*Entry, error) {
	var entry Entry
	err := s.db.GetContext(ctx, &entry,
		"SELECT * FROM oauth_tokens WHERE account = ?", account,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading token for %s: %w", account, err)
	}
	return &entry, nil
}

// Delete removes the stored token for an account.
func (s *Store) Delete(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE account = ?", account)
	if err != nil {
		return fmt.Errorf("deleting token for %s: %w", account, err)
	}
	return nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}
