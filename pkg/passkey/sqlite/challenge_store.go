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

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// challengeStore is the SQLite-backed passkey.ChallengeStore.
type challengeStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Put stores a newly issued challenge.
func (s *challengeStore) Put(ctx context.Context, challenge *passkey.Challenge) error {
	session, err := json.Marshal(challenge.Session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO challenges (id, kind, username, session, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		challenge.ID, string(challenge.Kind), challenge.Username,
		string(session), nanosOrZero(challenge.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// Get retrieves a challenge without consuming it.
func (s *challengeStore) Get(ctx context.Context, id string) (*passkey.Challenge, error) {
	challenge, err := s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, kind, username, session, created_at FROM challenges WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if challenge.Expired(s.ttl) {
		return nil, passkey.ErrChallengeExpired
	}
	return challenge, nil
}

// Consume atomically retrieves and deletes a challenge. The DELETE carries
// the lookup, so of any number of concurrent consumers exactly one sees
// the row.
func (s *challengeStore) Consume(ctx context.Context, id string) (*passkey.Challenge, error) {
	challenge, err := s.scanOne(s.db.QueryRowContext(ctx,
		`DELETE FROM challenges WHERE id = ?
		 RETURNING id, kind, username, session, created_at`, id))
	if err != nil {
		return nil, err
	}
	if challenge.Expired(s.ttl) {
		return nil, passkey.ErrChallengeExpired
	}
	return challenge, nil
}

// Delete removes a challenge if present.
func (s *challengeStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// Cleanup removes expired challenges and returns how many were removed.
func (s *challengeStore) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup challenges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup challenges: %w", err)
	}
	if n > 0 {
		s.logger.Debug("removed expired challenges", "count", n)
	}
	return n, nil
}

// scanOne scans a single challenge row.
func (s *challengeStore) scanOne(row *sql.Row) (*passkey.Challenge, error) {
	var (
		challenge passkey.Challenge
		kind      string
		session   string
		createdAt int64
	)
	err := row.Scan(&challenge.ID, &kind, &challenge.Username, &session, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan challenge: %w", err)
	}

	challenge.Kind = passkey.CeremonyKind(kind)
	challenge.CreatedAt = unixOrZero(createdAt)
	if err := json.Unmarshal([]byte(session), &challenge.Session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &challenge, nil
}
