package reelauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/reelauth"
	"github.com/panyam/reelauth/stores/fs"
)

// brokenStore fails every call the way an unreachable database would
type brokenStore struct{}

var errBackend = errors.New("connection refused")

func (brokenStore) FindByEmail(ctx context.Context, email string) (*ra.Account, error) {
	return nil, errBackend
}
func (brokenStore) GetAccount(ctx context.Context, id string) (*ra.Account, error) {
	return nil, errBackend
}
func (brokenStore) FindByProvider(ctx context.Context, link ra.ProviderLink) (*ra.Account, error) {
	return nil, errBackend
}
func (brokenStore) CreateAccount(ctx context.Context, email string, digest *string) (*ra.Account, error) {
	return nil, errBackend
}
func (brokenStore) LinkProvider(ctx context.Context, accountID string, link ra.ProviderLink) error {
	return errBackend
}
func (brokenStore) ListAccounts(ctx context.Context, limit int) ([]*ra.Account, error) {
	return nil, errBackend
}

func newFederation(t *testing.T) (*ra.Federation, ra.CreateAccountFunc) {
	t.Helper()
	accounts := fs.NewFSAccountStore(t.TempDir())
	hasher := ra.NewHasher(ra.MinHashCost)
	f := &ra.Federation{Accounts: accounts, Hasher: hasher, Policy: ra.ProvisionOnFirstLogin}
	return f, ra.NewCreateAccountFunc(accounts, hasher, nil)
}

func githubAssertion(subject, email string) ra.ProviderAssertion {
	return ra.ProviderAssertion{Provider: ra.ProviderGitHub, Subject: subject, Email: email, EmailVerified: true}
}

func TestFederationPassword(t *testing.T) {
	ctx := context.Background()
	f, create := newFederation(t)
	account, err := create(ctx, &ra.Credentials{Email: "A@X.io", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", account.Email)

	t.Run("correct password", func(t *testing.T) {
		id, err := f.Verify(ctx, ra.PasswordCredential{Email: "a@x.io", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, account.ID, id.ID)
	})

	t.Run("email is case insensitive", func(t *testing.T) {
		id, err := f.Verify(ctx, ra.PasswordCredential{Email: "  A@X.IO ", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, account.ID, id.ID)
	})

	t.Run("unknown email and wrong password look the same", func(t *testing.T) {
		_, wrongPassword := f.Verify(ctx, ra.PasswordCredential{Email: "a@x.io", Password: "wrong"})
		_, unknownEmail := f.Verify(ctx, ra.PasswordCredential{Email: "b@x.io", Password: "secret1"})
		assert.Equal(t, ra.ErrInvalidCredentials, wrongPassword)
		assert.Equal(t, ra.ErrInvalidCredentials, unknownEmail)
		assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	})

	t.Run("missing fields are validation errors", func(t *testing.T) {
		_, err := f.Verify(ctx, ra.PasswordCredential{Email: "a@x.io"})
		assert.ErrorIs(t, err, ra.ErrValidation)
		_, err = f.Verify(ctx, ra.PasswordCredential{Password: "secret1"})
		assert.ErrorIs(t, err, ra.ErrValidation)
		_, err = f.Verify(ctx, nil)
		assert.ErrorIs(t, err, ra.ErrValidation)
	})

	t.Run("provider-only account cannot log in with a password", func(t *testing.T) {
		_, err := f.Verify(ctx, githubAssertion("99", "p@x.io"))
		require.NoError(t, err)
		_, err = f.Verify(ctx, ra.PasswordCredential{Email: "p@x.io", Password: "anything"})
		assert.ErrorIs(t, err, ra.ErrInvalidCredentials)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		broken := &ra.Federation{Accounts: brokenStore{}, Hasher: f.Hasher}
		_, err := broken.Verify(ctx, ra.PasswordCredential{Email: "a@x.io", Password: "secret1"})
		assert.ErrorIs(t, err, ra.ErrInternal)
		assert.NotContains(t, err.Error(), "connection refused")
	})
}

func TestFederationProviders(t *testing.T) {
	ctx := context.Background()

	t.Run("first login provisions and links", func(t *testing.T) {
		f, _ := newFederation(t)
		first, err := f.Verify(ctx, githubAssertion("42", "Dev@X.io"))
		require.NoError(t, err)
		assert.Equal(t, "dev@x.io", first.Email)

		again, err := f.Verify(ctx, githubAssertion("42", "dev@x.io"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)

		account, err := f.Accounts.GetAccount(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, account.HasPassword())
		assert.True(t, account.IsLinked(ra.ProviderLink{Provider: ra.ProviderGitHub, Subject: "42"}))
	})

	t.Run("same email from two providers is one account", func(t *testing.T) {
		f, create := newFederation(t)
		local, err := create(ctx, &ra.Credentials{Email: "dev@x.io", Password: "secret1"})
		require.NoError(t, err)

		gh, err := f.Verify(ctx, githubAssertion("42", "dev@x.io"))
		require.NoError(t, err)
		g, err := f.Verify(ctx, ra.ProviderAssertion{Provider: ra.ProviderGoogle, Subject: "g-1", Email: "dev@x.io", EmailVerified: true})
		require.NoError(t, err)
		assert.Equal(t, local.ID, gh.ID)
		assert.Equal(t, local.ID, g.ID)

		// Linking does not touch the password
		_, err = f.Verify(ctx, ra.PasswordCredential{Email: "dev@x.io", Password: "secret1"})
		assert.NoError(t, err)
	})

	t.Run("unverified or incomplete assertions are rejected", func(t *testing.T) {
		f, _ := newFederation(t)
		cases := []ra.ProviderAssertion{
			{Provider: ra.ProviderGitHub, Subject: "42", Email: "dev@x.io"},
			{Provider: ra.ProviderGitHub, Email: "dev@x.io", EmailVerified: true},
			{Provider: ra.ProviderGitHub, Subject: "42", EmailVerified: true},
			{Provider: ra.ProviderLocal, Subject: "42", Email: "dev@x.io", EmailVerified: true},
			{Provider: "okta", Subject: "42", Email: "dev@x.io", EmailVerified: true},
		}
		for _, c := range cases {
			_, err := f.Verify(ctx, c)
			assert.ErrorIs(t, err, ra.ErrInvalidCredentials, "%+v", c)
		}
		_, err := f.Accounts.FindByEmail(ctx, "dev@x.io")
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
	})

	t.Run("require existing policy", func(t *testing.T) {
		f, create := newFederation(t)
		f.Policy = ra.RequireExistingAccount
		_, err := f.Verify(ctx, githubAssertion("42", "dev@x.io"))
		assert.ErrorIs(t, err, ra.ErrInvalidCredentials)

		_, err = create(ctx, &ra.Credentials{Email: "dev@x.io", Password: "secret1"})
		require.NoError(t, err)
		_, err = f.Verify(ctx, githubAssertion("42", "dev@x.io"))
		assert.NoError(t, err)
	})

	t.Run("subject linked elsewhere is rejected", func(t *testing.T) {
		f, _ := newFederation(t)
		_, err := f.Verify(ctx, githubAssertion("42", "first@x.io"))
		require.NoError(t, err)
		_, err = f.Verify(ctx, githubAssertion("42", "second@x.io"))
		assert.ErrorIs(t, err, ra.ErrInvalidCredentials)

		// The rejected email gets no account
		_, err = f.Accounts.FindByEmail(ctx, "second@x.io")
		assert.ErrorIs(t, err, ra.ErrAccountNotFound)
		all, err := f.Accounts.ListAccounts(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("subject linked elsewhere does not touch an existing account", func(t *testing.T) {
		f, create := newFederation(t)
		_, err := f.Verify(ctx, githubAssertion("42", "first@x.io"))
		require.NoError(t, err)
		other, err := create(ctx, &ra.Credentials{Email: "second@x.io", Password: "secret1"})
		require.NoError(t, err)

		_, err = f.Verify(ctx, githubAssertion("42", "second@x.io"))
		assert.ErrorIs(t, err, ra.ErrInvalidCredentials)
		account, err := f.Accounts.GetAccount(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, account.Providers)
	})

	t.Run("link lookup failure is internal", func(t *testing.T) {
		broken := &ra.Federation{Accounts: brokenStore{}, Hasher: ra.NewHasher(ra.MinHashCost)}
		_, err := broken.Verify(ctx, githubAssertion("42", "dev@x.io"))
		assert.ErrorIs(t, err, ra.ErrInternal)
	})

	t.Run("concurrent first logins share one account", func(t *testing.T) {
		f, _ := newFederation(t)
		const workers = 8
		ids := make([]string, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := f.Verify(ctx, githubAssertion("42", "race@x.io"))
				errs[i] = err
				if err == nil {
					ids[i] = id.ID
				}
			}(i)
		}
		wg.Wait()
		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
		all, err := f.Accounts.ListAccounts(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestCreateAccountFunc(t *testing.T) {
	ctx := context.Background()
	f, create := newFederation(t)

	_, err := create(ctx, &ra.Credentials{Email: "a@x.io", Password: "secret1"})
	require.NoError(t, err)

	t.Run("duplicate keeps the first password", func(t *testing.T) {
		_, err := create(ctx, &ra.Credentials{Email: "A@x.io", Password: "another1"})
		assert.ErrorIs(t, err, ra.ErrEmailTaken)
		assert.ErrorIs(t, err, ra.ErrConflict)

		_, err = f.Verify(ctx, ra.PasswordCredential{Email: "a@x.io", Password: "secret1"})
		assert.NoError(t, err)
		_, err = f.Verify(ctx, ra.PasswordCredential{Email: "a@x.io", Password: "another1"})
		assert.ErrorIs(t, err, ra.ErrInvalidCredentials)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := create(ctx, &ra.Credentials{Email: "not-an-email", Password: "secret1"})
		assert.ErrorIs(t, err, ra.ErrValidation)
		assert.Equal(t, "email", ra.ValidationField(err))

		_, err = create(ctx, &ra.Credentials{Email: "b@x.io", Password: "12345"})
		assert.ErrorIs(t, err, ra.ErrValidation)
		assert.Equal(t, "password", ra.ValidationField(err))
	})

	t.Run("concurrent registrations create one account", func(t *testing.T) {
		const workers = 6
		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := create(ctx, &ra.Credentials{Email: "race@x.io", Password: "secret1"})
				if err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, ra.ErrEmailTaken)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, created)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		_, err := ra.NewCreateAccountFunc(brokenStore{}, f.Hasher, nil)(ctx, &ra.Credentials{Email: "c@x.io", Password: "secret1"})
		assert.ErrorIs(t, err, ra.ErrInternal)
	})
}
