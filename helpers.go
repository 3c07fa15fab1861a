package reelauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/panyam/reelauth/internal/logutil"
)

// CreateAccountFunc registers a new local account
type CreateAccountFunc func(ctx context.Context, creds *Credentials) (*Account, error)

// NewCreateAccountFunc returns a CreateAccountFunc backed by accounts.
//
// The FindByEmail pre-check only spares a bcrypt round for obvious duplicates.
// The authoritative check is the store's unique constraint on write, which
// also catches two registrations racing for the same email.
func NewCreateAccountFunc(accounts AccountStore, hasher *Hasher, validate SignupValidator) CreateAccountFunc {
	if validate == nil {
		validate = DefaultSignupValidator
	}
	return func(ctx context.Context, creds *Credentials) (*Account, error) {
		if err := validate(creds); err != nil {
			return nil, err
		}
		email := NormalizeEmail(creds.Email)
		log := logutil.GetOrDefault(ctx)

		_, err := accounts.FindByEmail(ctx, email)
		if err == nil {
			return nil, ErrEmailTaken
		} else if !errors.Is(err, ErrAccountNotFound) {
			log.Error().Err(err).Msg("account lookup failed during registration")
			return nil, fmt.Errorf("%w: account lookup", ErrInternal)
		}

		digest, err := hasher.Hash(ctx, creds.Password)
		if err != nil {
			if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			log.Error().Err(err).Msg("hashing password failed")
			return nil, fmt.Errorf("%w: hash password", ErrInternal)
		}

		account, err := accounts.CreateAccount(ctx, email, &digest)
		if err != nil {
			if errors.Is(err, ErrEmailTaken) {
				return nil, ErrEmailTaken
			}
			log.Error().Err(err).Msg("creating account failed")
			return nil, fmt.Errorf("%w: create account", ErrInternal)
		}

		log.Info().Str("account_id", account.ID).Msg("registered local account")
		return account, nil
	}
}
