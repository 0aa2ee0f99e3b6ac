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

package passkey

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserStore is an in-memory implementation of UserStore.
// This is intended for development and testing only.
type MemoryUserStore struct {
	mu         sync.RWMutex
	byUsername map[string]*User
	credToUser map[string]string
}

// NewMemoryUserStore creates a new in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byUsername: make(map[string]*User),
		credToUser: make(map[string]string),
	}
}

// Get retrieves a user by username.
func (s *MemoryUserStore) Get(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Create creates a new user with the given username.
func (s *MemoryUserStore) Create(ctx context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[username]; ok {
		return nil, ErrUserExists
	}

	user := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Passkeys:  []*Passkey{},
		CreatedAt: time.Now().UTC(),
	}
	s.byUsername[username] = user

	return user, nil
}

// AddPasskey appends a passkey to a user.
func (s *MemoryUserStore) AddPasskey(ctx context.Context, username string, passkey *Passkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byUsername[username]
	if !ok {
		return ErrUserNotFound
	}

	credKey := hex.EncodeToString(passkey.ID)
	if _, ok := s.credToUser[credKey]; ok {
		return ErrCredentialExists
	}

	user.Passkeys = append(user.Passkeys, passkey)
	s.credToUser[credKey] = username

	return nil
}

// FindByCredentialID resolves a credential ID to its owner and passkey.
func (s *MemoryUserStore) FindByCredentialID(ctx context.Context, credentialID []byte) (*User, *Passkey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findLocked(credentialID)
}

// findLocked requires at least a read lock held by the caller.
func (s *MemoryUserStore) findLocked(credentialID []byte) (*User, *Passkey, error) {
	username, ok := s.credToUser[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, nil, ErrCredentialNotFound
	}
	user := s.byUsername[username]
	pk := user.Passkey(credentialID)
	if pk == nil {
		return nil, nil, ErrCredentialNotFound
	}
	return user, pk, nil
}

// UpdateCounter persists a new signature counter with compare-and-swap
// semantics. The counter and LastUsedAt are updated together.
func (s *MemoryUserStore) UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, pk, err := s.findLocked(credentialID)
	if err != nil {
		return err
	}
	if pk.SignatureCounter != observed {
		return ErrCounterConflict
	}

	pk.SignatureCounter = updated
	pk.LastUsedAt = time.Now().UTC()
	return nil
}

// FlagClone marks a passkey as possibly cloned.
func (s *MemoryUserStore) FlagClone(ctx context.Context, credentialID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, pk, err := s.findLocked(credentialID)
	if err != nil {
		return err
	}
	pk.CloneWarning = true
	return nil
}

// List returns all users, ordered by username.
func (s *MemoryUserStore) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.byUsername))
	for _, user := range s.byUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// Delete removes a user and all their passkeys.
func (s *MemoryUserStore) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byUsername[username]
	if !ok {
		return ErrUserNotFound
	}

	for _, pk := range user.Passkeys {
		delete(s.credToUser, hex.EncodeToString(pk.ID))
	}
	delete(s.byUsername, username)

	return nil
}

// Count returns the number of users in the store.
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUsername)
}

// Clear removes all users from the store.
func (s *MemoryUserStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUsername = make(map[string]*User)
	s.credToUser = make(map[string]string)
}

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// This is intended for development and testing only.
type MemoryChallengeStore struct {
	mu         sync.RWMutex
	challenges map[string]*Challenge
	ttl        time.Duration
}

// NewMemoryChallengeStore creates a new in-memory challenge store with the
// default 5 minute TTL.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return NewMemoryChallengeStoreWithTTL(5 * time.Minute)
}

// NewMemoryChallengeStoreWithTTL creates a new in-memory challenge store
// with a custom TTL.
func NewMemoryChallengeStoreWithTTL(ttl time.Duration) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
	}
}

// Put stores a newly issued challenge.
func (s *MemoryChallengeStore) Put(ctx context.Context, challenge *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[challenge.ID] = challenge
	return nil
}

// Get retrieves a challenge without consuming it.
func (s *MemoryChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if challenge.Expired(s.ttl) {
		return nil, ErrChallengeExpired
	}
	return challenge, nil
}

// Consume atomically retrieves and deletes a challenge. The delete happens
// under the same lock as the lookup so concurrent consumers of the same ID
// cannot both succeed.
func (s *MemoryChallengeStore) Consume(ctx context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.challenges, id)

	if challenge.Expired(s.ttl) {
		return nil, ErrChallengeExpired
	}
	return challenge, nil
}

// Delete removes a challenge if present.
func (s *MemoryChallengeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, id)
	return nil
}

// Count returns the number of challenges in the store.
func (s *MemoryChallengeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.challenges)
}

// Clear removes all challenges from the store.
func (s *MemoryChallengeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges = make(map[string]*Challenge)
}

// Cleanup removes expired challenges and returns how many were removed.
func (s *MemoryChallengeStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, challenge := range s.challenges {
		if challenge.Expired(s.ttl) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed
}
