//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ra "github.com/panyam/reelauth"
)

// AutoMigrate runs database migrations for all reelauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&ProviderLinkModel{},
	)
}

// AccountStore implements ra.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// isDuplicate recognizes a unique constraint violation. gorm translates it to
// ErrDuplicatedKey when the DB was opened with TranslateError; the string
// checks cover drivers opened without it.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "duplicate entry")
}

func (s *AccountStore) first(ctx context.Context, query string, arg any) (*ra.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).Preload("Links").First(&model, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ra.ErrAccountNotFound
	} else if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ra.Account, error) {
	return s.first(ctx, "email = ?", ra.NormalizeEmail(email))
}

func (s *AccountStore) GetAccount(ctx context.Context, id string) (*ra.Account, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *AccountStore) FindByProvider(ctx context.Context, link ra.ProviderLink) (*ra.Account, error) {
	var model ProviderLinkModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND subject = ?", string(link.Provider), link.Subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ra.ErrAccountNotFound
	} else if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, model.AccountID)
}

func (s *AccountStore) CreateAccount(ctx context.Context, email string, digest *string) (*ra.Account, error) {
	model := &AccountModel{
		ID:             uuid.NewString(),
		Email:          ra.NormalizeEmail(email),
		PasswordDigest: digest,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return nil, ra.ErrEmailTaken
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) LinkProvider(ctx context.Context, accountID string, link ra.ProviderLink) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AccountModel{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ra.ErrAccountNotFound
		}

		model := &ProviderLinkModel{Provider: string(link.Provider), Subject: link.Subject, AccountID: accountID}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var existing ProviderLinkModel
			if err := tx.First(&existing, "provider = ? AND subject = ?", model.Provider, model.Subject).Error; err != nil {
				return err
			}
			if existing.AccountID != accountID {
				return fmt.Errorf("%w: %s subject already linked", ra.ErrConflict, link.Provider)
			}
			return nil
		}
		return tx.Model(&AccountModel{}).Where("id = ?", accountID).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	})
}

func (s *AccountStore) ListAccounts(ctx context.Context, limit int) ([]*ra.Account, error) {
	var models []AccountModel
	q := s.db.WithContext(ctx).Preload("Links").Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ra.Account, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToAccount())
	}
	return out, nil
}
