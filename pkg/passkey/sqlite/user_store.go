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
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// userStore is the SQLite-backed passkey.UserStore.
type userStore struct {
	db *sql.DB
}

// Get retrieves a user by username.
func (s *userStore) Get(ctx context.Context, username string) (*passkey.User, error) {
	var (
		user      passkey.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username).
		Scan(&user.ID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = unixOrZero(createdAt)

	passkeys, err := s.passkeysForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Passkeys = passkeys
	return &user, nil
}

// Create creates a new user with the given username.
func (s *userStore) Create(ctx context.Context, username string) (*passkey.User, error) {
	user := &passkey.User{
		ID:        uuid.NewString(),
		Username:  username,
		Passkeys:  []*passkey.Passkey{},
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		user.ID, user.Username, nanosOrZero(user.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, passkey.ErrUserExists
	}
	return user, nil
}

// AddPasskey appends a passkey to a user.
func (s *userStore) AddPasskey(ctx context.Context, username string, pk *passkey.Passkey) error {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = ?`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return passkey.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("query user: %w", err)
	}

	transports, err := json.Marshal(pk.Transports)
	if err != nil {
		return fmt.Errorf("marshal transports: %w", err)
	}
	flags, err := json.Marshal(pk.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO passkeys
		 (id, user_id, public_key, attestation_type, transports, flags, aaguid,
		  signature_counter, clone_warning, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		pk.ID, userID, pk.PublicKey, pk.AttestationType, string(transports),
		string(flags), pk.AAGUID, pk.SignatureCounter, pk.CloneWarning,
		nanosOrZero(pk.CreatedAt), nanosOrZero(pk.LastUsedAt))
	if err != nil {
		return fmt.Errorf("insert passkey: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passkey.ErrCredentialExists
	}
	return nil
}

// FindByCredentialID resolves a credential ID to its owner and passkey.
func (s *userStore) FindByCredentialID(ctx context.Context, credentialID []byte) (*passkey.User, *passkey.Passkey, error) {
	var username string
	err := s.db.QueryRowContext(ctx,
		`SELECT u.username FROM passkeys p JOIN users u ON u.id = p.user_id WHERE p.id = ?`,
		credentialID).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, passkey.ErrCredentialNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query passkey owner: %w", err)
	}

	user, err := s.Get(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	pk := user.Passkey(credentialID)
	if pk == nil {
		return nil, nil, passkey.ErrCredentialNotFound
	}
	return user, pk, nil
}

// UpdateCounter persists a new signature counter with compare-and-swap
// semantics. The WHERE clause carries the observed value, so a lost race
// changes no rows.
func (s *userStore) UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE passkeys SET signature_counter = ?, last_used_at = ?
		 WHERE id = ? AND signature_counter = ?`,
		updated, time.Now().UTC().UnixNano(), credentialID, observed)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM passkeys WHERE id = ?`, credentialID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return passkey.ErrCredentialNotFound
			}
			return fmt.Errorf("query passkey: %w", err)
		}
		return passkey.ErrCounterConflict
	}
	return nil
}

// FlagClone marks a passkey as possibly cloned.
func (s *userStore) FlagClone(ctx context.Context, credentialID []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE passkeys SET clone_warning = 1 WHERE id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("flag clone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}

// List returns all users with their passkeys, ordered by username.
func (s *userStore) List(ctx context.Context) ([]*passkey.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*passkey.User
	for rows.Next() {
		var (
			user      passkey.User
			createdAt int64
		)
		if err := rows.Scan(&user.ID, &user.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.CreatedAt = unixOrZero(createdAt)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	for _, user := range users {
		passkeys, err := s.passkeysForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		user.Passkeys = passkeys
	}
	return users, nil
}

// Delete removes a user; passkeys cascade.
func (s *userStore) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return passkey.ErrUserNotFound
	}
	return nil
}

// passkeysForUser loads all passkeys belonging to a user.
func (s *userStore) passkeysForUser(ctx context.Context, userID string) ([]*passkey.Passkey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_key, attestation_type, transports, flags, aaguid,
		        signature_counter, clone_warning, created_at, last_used_at
		 FROM passkeys WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query passkeys: %w", err)
	}
	defer rows.Close()

	passkeys := []*passkey.Passkey{}
	for rows.Next() {
		var (
			pk         passkey.Passkey
			transports string
			flags      string
			aaguid     []byte
			createdAt  int64
			lastUsedAt int64
		)
		if err := rows.Scan(&pk.ID, &pk.PublicKey, &pk.AttestationType,
			&transports, &flags, &aaguid, &pk.SignatureCounter,
			&pk.CloneWarning, &createdAt, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("scan passkey: %w", err)
		}
		if err := json.Unmarshal([]byte(transports), &pk.Transports); err != nil {
			return nil, fmt.Errorf("unmarshal transports: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &pk.Flags); err != nil {
			return nil, fmt.Errorf("unmarshal flags: %w", err)
		}
		pk.AAGUID = aaguid
		pk.CreatedAt = unixOrZero(createdAt)
		pk.LastUsedAt = unixOrZero(lastUsedAt)
		passkeys = append(passkeys, &pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passkeys: %w", err)
	}
	return passkeys, nil
}
