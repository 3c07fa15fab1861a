package reelauth

import (
	"context"
	"strings"
	"time"
)

// Provider names a way of establishing identity
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
)

// ProviderLink records that an external provider subject belongs to an account
type ProviderLink struct {
	Provider Provider `json:"provider" bson:"provider"`
	Subject  string   `json:"subject" bson:"subject"`
}

// Account is a registered user.
//
// PasswordDigest is nil for accounts that only ever logged in through an
// external provider. It is set once at creation and not changed by any flow
// in this package.
type Account struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	PasswordDigest *string        `json:"password_digest,omitempty"`
	Providers      []ProviderLink `json:"providers,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasPassword returns true if the account can log in with a local password
func (a *Account) HasPassword() bool {
	return a.PasswordDigest != nil && *a.PasswordDigest != ""
}

// IsLinked returns true if the account is already linked to provider/subject
func (a *Account) IsLinked(link ProviderLink) bool {
	for _, p := range a.Providers {
		if p.Provider == link.Provider && p.Subject == link.Subject {
			return true
		}
	}
	return false
}

// AccountStore is the data access object for accounts.
//
// Implementations key accounts on NormalizeEmail(email) and must enforce email
// uniqueness when writing (unique index, exclusive create or transaction), not
// only through a prior read. CreateAccount returns ErrEmailTaken when the
// constraint fires.
type AccountStore interface {
	// FindByEmail returns the account for email or ErrAccountNotFound
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// GetAccount returns the account with the given id or ErrAccountNotFound
	GetAccount(ctx context.Context, id string) (*Account, error)

	// FindByProvider returns the account link is attached to or ErrAccountNotFound
	FindByProvider(ctx context.Context, link ProviderLink) (*Account, error)

	// CreateAccount creates a new account. digest is nil for provider-only accounts.
	CreateAccount(ctx context.Context, email string, digest *string) (*Account, error)

	// LinkProvider attaches a provider subject to an account. Linking twice is
	// a no-op. A subject already linked to another account is ErrConflict.
	LinkProvider(ctx context.Context, accountID string, link ProviderLink) error

	// ListAccounts returns up to limit accounts, oldest first
	ListAccounts(ctx context.Context, limit int) ([]*Account, error)
}

// NormalizeEmail is the canonical form used for storage and lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
