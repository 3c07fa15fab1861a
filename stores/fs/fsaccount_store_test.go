package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/reelauth"
	"github.com/panyam/reelauth/stores/storetest"
)

func TestFSAccountStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ra.AccountStore {
		return NewFSAccountStore(t.TempDir())
	})
}

func TestFSAccountStoreConcurrentCreate(t *testing.T) {
	storetest.RunConcurrentCreate(t, NewFSAccountStore(t.TempDir()), 16)
}

func TestFSAccountStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewFSAccountStore(dir)
	account, err := store.CreateAccount(context.Background(), "layout@example.com", nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "accounts", account.ID+".json"))
	assert.NoError(t, err)

	emails, err := os.ReadDir(filepath.Join(dir, "emails"))
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.NotContains(t, emails[0].Name(), "layout", "email index files are named by hash")
}

func TestFSAccountStoreRejectsPathIDs(t *testing.T) {
	store := NewFSAccountStore(t.TempDir())
	_, err := store.GetAccount(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ra.ErrAccountNotFound)
}

func TestFSAccountStoreListSkipsOrphans(t *testing.T) {
	ctx := context.Background()
	store := NewFSAccountStore(t.TempDir())
	live, err := store.CreateAccount(ctx, "live@example.com", nil)
	require.NoError(t, err)

	// a record whose email was claimed by someone else, as left by a lost race
	orphan := &ra.Account{ID: "orphan-id", Email: "live@example.com", CreatedAt: live.CreatedAt}
	require.NoError(t, store.writeAccount(orphan))
	// a record with no email index at all, as left by a crash
	unindexed := &ra.Account{ID: "unindexed-id", Email: "ghost@example.com", CreatedAt: live.CreatedAt}
	require.NoError(t, store.writeAccount(unindexed))

	accounts, err := store.ListAccounts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, live.ID, accounts[0].ID)

	entries, err := os.ReadDir(filepath.Join(store.StoragePath, "accounts"))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temp files are renamed away")
}
