//go:build !wasm
// +build !wasm

// Package mongo provides a MongoDB implementation of reelauth.AccountStore.
//
// # Collections
//
//   - accounts: _id is the account id, unique index on email
//   - provider_links: _id is provider:subject, holds the owning account id
//
// Call EnsureIndexes once at start up; the unique email index is what makes
// concurrent registrations for one address fail with ErrEmailTaken.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	ra "github.com/panyam/reelauth"
)

const (
	CollectionAccounts      = "accounts"
	CollectionProviderLinks = "provider_links"
)

type accountDoc struct {
	ID             string            `bson:"_id"`
	Email          string            `bson:"email"`
	PasswordDigest *string           `bson:"password_digest,omitempty"`
	Providers      []ra.ProviderLink `bson:"providers"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func (d *accountDoc) toAccount() *ra.Account {
	return &ra.Account{
		ID:             d.ID,
		Email:          d.Email,
		PasswordDigest: d.PasswordDigest,
		Providers:      d.Providers,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type linkDoc struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// AccountStore implements ra.AccountStore on a MongoDB database
type AccountStore struct {
	accounts *mongo.Collection
	links    *mongo.Collection
}

func NewAccountStore(db *mongo.Database) *AccountStore {
	return &AccountStore{
		accounts: db.Collection(CollectionAccounts),
		links:    db.Collection(CollectionProviderLinks),
	}
}

// EnsureIndexes creates the unique email index
func (s *AccountStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func (s *AccountStore) findOne(ctx context.Context, filter bson.D) (*ra.Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	return doc.toAccount(), nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ra.Account, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: ra.NormalizeEmail(email)}})
}

func (s *AccountStore) GetAccount(ctx context.Context, id string) (*ra.Account, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func linkID(link ra.ProviderLink) string {
	return string(link.Provider) + ":" + link.Subject
}

func (s *AccountStore) FindByProvider(ctx context.Context, link ra.ProviderLink) (*ra.Account, error) {
	var doc linkDoc
	if err := s.links.FindOne(ctx, bson.D{{Key: "_id", Value: linkID(link)}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ra.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, doc.AccountID)
}

func (s *AccountStore) CreateAccount(ctx context.Context, email string, digest *string) (*ra.Account, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := &accountDoc{
		ID:             uuid.NewString(),
		Email:          ra.NormalizeEmail(email),
		PasswordDigest: digest,
		Providers:      []ra.ProviderLink{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ra.ErrEmailTaken
		}
		return nil, err
	}
	return doc.toAccount(), nil
}

func (s *AccountStore) LinkProvider(ctx context.Context, accountID string, link ra.ProviderLink) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.IsLinked(link) {
		return nil
	}

	now := time.Now().UTC()
	id := linkID(link)
	_, err = s.links.InsertOne(ctx, &linkDoc{ID: id, AccountID: accountID, CreatedAt: now})
	if mongo.IsDuplicateKeyError(err) {
		var existing linkDoc
		if err := s.links.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&existing); err != nil {
			return err
		}
		if existing.AccountID != accountID {
			return fmt.Errorf("%w: %s subject already linked", ra.ErrConflict, link.Provider)
		}
	} else if err != nil {
		return err
	}

	_, err = s.accounts.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: accountID}},
		bson.D{
			{Key: "$addToSet", Value: bson.D{{Key: "providers", Value: link}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: now}}},
		})
	return err
}

func (s *AccountStore) ListAccounts(ctx context.Context, limit int) ([]*ra.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.accounts.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*ra.Account, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toAccount())
	}
	return out, nil
}
