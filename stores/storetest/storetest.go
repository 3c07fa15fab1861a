// Package storetest holds the behaviour every reelauth.AccountStore backend
// must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/reelauth"
)

// Run exercises newStore against the AccountStore contract. newStore must
// return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) ra.AccountStore) {
	ctx := context.Background()
	digest := "$2a$10$abcdefghijklmnopqrstuuJ1yq7mVYJ8bYz9m5o0vU6gk3ZsV1a2"

	t.Run("create then find by email", func(t *testing.T) {
		store := newStore(t)
		created, err := store.CreateAccount(ctx, "alice@example.com", &digest)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, "alice@example.com", created.Email)

		found, err := store.FindByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		require.NotNil(t, found.PasswordDigest)
		assert.Equal(t, digest, *found.PasswordDigest)

		byID, err := store.GetAccount(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", byID.Email)
	})

	t.Run("emails are case insensitive", func(t *testing.T) {
		store := newStore(t)
		created, err := store.CreateAccount(ctx, " Bob@Example.COM ", &digest)
		require.NoError(t, err)
		assert.Equal(t, "bob@example.com", created.Email)

		found, err := store.FindByEmail(ctx, "BOB@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)

		_, err = store.CreateAccount(ctx, "bob@EXAMPLE.com", nil)
		assert.ErrorIs(t, err, ra.ErrEmailTaken)
	})

	t.Run("missing accounts", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
		_, err = store.GetAccount(ctx, "no-such-id")
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
	})

	t.Run("duplicate email keeps the first digest", func(t *testing.T) {
		store := newStore(t)
		first, err := store.CreateAccount(ctx, "carol@example.com", &digest)
		require.NoError(t, err)

		other := "$2a$10$zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"
		_, err = store.CreateAccount(ctx, "carol@example.com", &other)
		require.Error(t, err)
		assert.ErrorIs(t, err, ra.ErrEmailTaken)
		assert.ErrorIs(t, err, ra.ErrConflict)

		found, err := store.FindByEmail(ctx, "carol@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
		assert.Equal(t, digest, *found.PasswordDigest)
	})

	t.Run("provider-only account has no digest", func(t *testing.T) {
		store := newStore(t)
		created, err := store.CreateAccount(ctx, "dave@example.com", nil)
		require.NoError(t, err)
		found, err := store.GetAccount(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, found.HasPassword())
	})

	t.Run("link provider", func(t *testing.T) {
		store := newStore(t)
		account, err := store.CreateAccount(ctx, "erin@example.com", nil)
		require.NoError(t, err)
		link := ra.ProviderLink{Provider: ra.ProviderGitHub, Subject: "42"}

		require.NoError(t, store.LinkProvider(ctx, account.ID, link))
		require.NoError(t, store.LinkProvider(ctx, account.ID, link), "linking twice is a no-op")

		found, err := store.FindByEmail(ctx, "erin@example.com")
		require.NoError(t, err)
		assert.Equal(t, []ra.ProviderLink{link}, found.Providers)

		other, err := store.CreateAccount(ctx, "frank@example.com", nil)
		require.NoError(t, err)
		err = store.LinkProvider(ctx, other.ID, link)
		assert.ErrorIs(t, err, ra.ErrConflict)

		err = store.LinkProvider(ctx, "no-such-id", ra.ProviderLink{Provider: ra.ProviderGoogle, Subject: "7"})
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
	})

	t.Run("find by provider", func(t *testing.T) {
		store := newStore(t)
		link := ra.ProviderLink{Provider: ra.ProviderGoogle, Subject: "g-7"}
		_, err := store.FindByProvider(ctx, link)
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)

		account, err := store.CreateAccount(ctx, "gina@example.com", nil)
		require.NoError(t, err)
		require.NoError(t, store.LinkProvider(ctx, account.ID, link))

		found, err := store.FindByProvider(ctx, link)
		require.NoError(t, err)
		assert.Equal(t, account.ID, found.ID)

		_, err = store.FindByProvider(ctx, ra.ProviderLink{Provider: ra.ProviderGitHub, Subject: "g-7"})
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
	})

	t.Run("list accounts", func(t *testing.T) {
		store := newStore(t)
		for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
			_, err := store.CreateAccount(ctx, email, nil)
			require.NoError(t, err)
		}
		all, err := store.ListAccounts(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		two, err := store.ListAccounts(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, two, 2)
	})
}

// RunConcurrentCreate checks that racing creates for one email leave exactly
// one account. Backends that cannot take parallel writers skip it.
func RunConcurrentCreate(t *testing.T, store ra.AccountStore, workers int) {
	ctx := context.Background()
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateAccount(ctx, "race@example.com", nil)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ra.ErrEmailTaken):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())

	all, err := store.ListAccounts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
