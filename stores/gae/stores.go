//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	ra "github.com/panyam/reelauth"
)

// Kind constants for Datastore entities
const (
	KindAccount      = "Account"
	KindAccountEmail = "AccountEmail"
	KindProviderLink = "ProviderLink"
)

// AccountStore implements ra.AccountStore using Google Cloud Datastore
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *AccountStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *AccountStore) linkKey(link ra.ProviderLink) *datastore.Key {
	return s.namespacedKey(KindProviderLink, string(link.Provider)+":"+link.Subject)
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ra.Account, error) {
	var index IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccountEmail, ra.NormalizeEmail(email)), &index); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, index.AccountID)
}

func (s *AccountStore) GetAccount(ctx context.Context, id string) (*ra.Account, error) {
	if id == "" {
		return nil, ra.ErrAccountNotFound
	}
	var entity AccountEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccount, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) FindByProvider(ctx context.Context, link ra.ProviderLink) (*ra.Account, error) {
	var index IndexEntity
	if err := s.client.Get(ctx, s.linkKey(link), &index); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, index.AccountID)
}

func (s *AccountStore) CreateAccount(ctx context.Context, email string, digest *string) (*ra.Account, error) {
	email = ra.NormalizeEmail(email)
	now := time.Now().UTC()
	entity := &AccountEntity{
		Key:       s.namespacedKey(KindAccount, uuid.NewString()),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if digest != nil {
		entity.PasswordDigest = *digest
		entity.HasPassword = true
	}
	emailKey := s.namespacedKey(KindAccountEmail, email)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IndexEntity
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return ra.ErrEmailTaken
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(emailKey, &IndexEntity{AccountID: entity.Key.Name, CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.Put(entity.Key, entity)
		return err
	}, datastore.MaxAttempts(10))
	if err != nil {
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) LinkProvider(ctx context.Context, accountID string, link ra.ProviderLink) error {
	if accountID == "" {
		return ra.ErrAccountNotFound
	}
	accountKey := s.namespacedKey(KindAccount, accountID)
	linkKey := s.linkKey(link)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(accountKey, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ra.ErrAccountNotFound
			}
			return err
		}
		if entity.ToAccount().IsLinked(link) {
			return nil
		}

		var existing IndexEntity
		err := tx.Get(linkKey, &existing)
		if err == nil && existing.AccountID != accountID {
			return fmt.Errorf("%w: %s subject already linked", ra.ErrConflict, link.Provider)
		} else if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Put(linkKey, &IndexEntity{AccountID: accountID, CreatedAt: now}); err != nil {
			return err
		}
		entity.Providers = append(entity.Providers, ProviderLinkEntity{Provider: string(link.Provider), Subject: link.Subject})
		entity.UpdatedAt = now
		entity.Version++
		_, err = tx.Put(accountKey, &entity)
		return err
	})
	return err
}

func (s *AccountStore) ListAccounts(ctx context.Context, limit int) ([]*ra.Account, error) {
	query := datastore.NewQuery(KindAccount).Order("created_at")
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var out []*ra.Account
	it := s.client.Run(ctx, query)
	for {
		var entity AccountEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entity.ToAccount())
	}
	return out, nil
}
