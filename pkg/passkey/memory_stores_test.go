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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	user, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Username)
	assert.Empty(t, user.Passkeys)

	got, err := store.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Duplicate username
	_, err = store.Create(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrUserExists)

	// Unknown username
	_, err = store.Get(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUserStore_AddPasskey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)

	pk := &Passkey{ID: []byte("cred-1"), PublicKey: []byte("pub")}
	require.NoError(t, store.AddPasskey(ctx, "alice@example.com", pk))

	// Duplicate credential ID
	err = store.AddPasskey(ctx, "alice@example.com", &Passkey{ID: []byte("cred-1")})
	assert.ErrorIs(t, err, ErrCredentialExists)

	// Unknown user
	err = store.AddPasskey(ctx, "bob@example.com", &Passkey{ID: []byte("cred-2")})
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err := store.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, user.Passkeys, 1)
}

func TestMemoryUserStore_FindByCredentialID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AddPasskey(ctx, "alice@example.com", &Passkey{ID: []byte("cred-1")}))

	user, pk, err := store.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Username)
	assert.Equal(t, []byte("cred-1"), pk.ID)

	_, _, err = store.FindByCredentialID(ctx, []byte("cred-x"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestMemoryUserStore_UpdateCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AddPasskey(ctx, "alice@example.com",
		&Passkey{ID: []byte("cred-1"), SignatureCounter: 5}))

	// Stale observed value loses the swap.
	err = store.UpdateCounter(ctx, []byte("cred-1"), 4, 6)
	assert.ErrorIs(t, err, ErrCounterConflict)

	// Matching observed value wins.
	require.NoError(t, store.UpdateCounter(ctx, []byte("cred-1"), 5, 6))

	_, pk, err := store.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), pk.SignatureCounter)
	assert.False(t, pk.LastUsedAt.IsZero())

	// Unknown credential
	err = store.UpdateCounter(ctx, []byte("cred-x"), 0, 1)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestMemoryUserStore_FlagClone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AddPasskey(ctx, "alice@example.com", &Passkey{ID: []byte("cred-1")}))

	require.NoError(t, store.FlagClone(ctx, []byte("cred-1")))

	_, pk, err := store.FindByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.True(t, pk.CloneWarning)

	err = store.FlagClone(ctx, []byte("cred-x"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestMemoryUserStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	for _, username := range []string{"carol@example.com", "alice@example.com", "bob@example.com"} {
		_, err := store.Create(ctx, username)
		require.NoError(t, err)
	}

	users, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice@example.com", users[0].Username)
	assert.Equal(t, "bob@example.com", users[1].Username)
	assert.Equal(t, "carol@example.com", users[2].Username)

	require.NoError(t, store.Delete(ctx, "bob@example.com"))
	assert.Equal(t, 2, store.Count())

	err = store.Delete(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	store.Clear()
	assert.Equal(t, 0, store.Count())
}

func TestMemoryUserStore_DeleteRemovesCredentialIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUserStore()

	_, err := store.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, store.AddPasskey(ctx, "alice@example.com", &Passkey{ID: []byte("cred-1")}))

	require.NoError(t, store.Delete(ctx, "alice@example.com"))

	_, _, err = store.FindByCredentialID(ctx, []byte("cred-1"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func testChallenge(id string) *Challenge {
	return &Challenge{
		ID:        id,
		Kind:      CeremonyAuthentication,
		Username:  "alice@example.com",
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryChallengeStore_PutGetConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore()

	require.NoError(t, store.Put(ctx, testChallenge("c1")))

	// Get does not consume.
	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	got, err = store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	// Consume does.
	got, err = store.Consume(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	_, err = store.Consume(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestMemoryChallengeStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStoreWithTTL(time.Nanosecond)

	require.NoError(t, store.Put(ctx, testChallenge("c1")))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// The first consume reports expiry and removes the entry; after that
	// the challenge is simply gone.
	_, err = store.Consume(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeExpired)
	_, err = store.Consume(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestMemoryChallengeStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore()

	require.NoError(t, store.Put(ctx, testChallenge("c1")))
	require.NoError(t, store.Delete(ctx, "c1"))
	_, err := store.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	// Deleting an absent challenge is not an error.
	require.NoError(t, store.Delete(ctx, "c1"))
}

func TestMemoryChallengeStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStoreWithTTL(time.Minute)

	require.NoError(t, store.Put(ctx, testChallenge("fresh")))

	stale := testChallenge("stale")
	stale.CreatedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, store.Put(ctx, stale))

	removed := store.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Count())

	_, err := store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

// A challenge consumed by many goroutines at once must be delivered to
// exactly one of them.
func TestMemoryChallengeStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore()

	const goroutines = 32
	for round := 0; round < 10; round++ {
		id := fmt.Sprintf("c%d", round)
		require.NoError(t, store.Put(ctx, testChallenge(id)))

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Consume(ctx, id); err == nil {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	}
}
