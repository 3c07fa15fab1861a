//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ra "github.com/panyam/reelauth"
)

// AccountEntity is the Datastore entity for accounts
type AccountEntity struct {
	Key            *datastore.Key       `datastore:"__key__"`
	Email          string               `datastore:"email"`
	PasswordDigest string               `datastore:"password_digest,noindex"`
	HasPassword    bool                 `datastore:"has_password,noindex"`
	Providers      []ProviderLinkEntity `datastore:"providers,noindex"`
	CreatedAt      time.Time            `datastore:"created_at"`
	UpdatedAt      time.Time            `datastore:"updated_at"`
	Version        int                  `datastore:"version"`
}

// ProviderLinkEntity is embedded in AccountEntity
type ProviderLinkEntity struct {
	Provider string `datastore:"provider"`
	Subject  string `datastore:"subject"`
}

func (e *AccountEntity) ToAccount() *ra.Account {
	out := &ra.Account{
		ID:        e.Key.Name,
		Email:     e.Email,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.HasPassword {
		digest := e.PasswordDigest
		out.PasswordDigest = &digest
	}
	for _, p := range e.Providers {
		out.Providers = append(out.Providers, ra.ProviderLink{Provider: ra.Provider(p.Provider), Subject: p.Subject})
	}
	return out
}

// IndexEntity reserves a unique value (an email or a provider subject) for an account
type IndexEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}
