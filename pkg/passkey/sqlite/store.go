// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package sqlite provides durable UserStore and ChallengeStore
// implementations backed by SQLite, using the pure-Go modernc.org/sqlite
// driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// schema is applied on every Open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS passkeys (
	id                BLOB PRIMARY KEY,
	user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	public_key        BLOB NOT NULL,
	attestation_type  TEXT NOT NULL DEFAULT '',
	transports        TEXT NOT NULL DEFAULT '[]',
	flags             TEXT NOT NULL DEFAULT '{}',
	aaguid            BLOB,
	signature_counter INTEGER NOT NULL DEFAULT 0,
	clone_warning     INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	last_used_at      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_passkeys_user_id ON passkeys(user_id);

CREATE TABLE IF NOT EXISTS challenges (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	session    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store owns the database handle and hands out the typed stores.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithChallengeTTL sets the challenge TTL. Defaults to 5 minutes.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent ceremonies.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		ttl:    5 * time.Minute,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Users returns the durable UserStore.
func (s *Store) Users() passkey.UserStore {
	return &userStore{db: s.db}
}

// Challenges returns the durable ChallengeStore.
func (s *Store) Challenges() passkey.ChallengeStore {
	return &challengeStore{db: s.db, ttl: s.ttl, logger: s.logger}
}

// unixOrZero converts a stored unix timestamp to a time.Time, mapping the
// zero sentinel back to the zero time.
func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts).UTC()
}

// nanosOrZero converts a time.Time to its stored representation.
func nanosOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
