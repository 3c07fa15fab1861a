package reelauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/panyam/reelauth/internal/logutil"
)

// VerifiedIdentity is what every identity provider produces on success.
// It is consumed immediately by the SessionIssuer and never stored.
type VerifiedIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Credential is proof of identity presented to the Federation.
//
// The set of implementations is closed: PasswordCredential for local login and
// ProviderAssertion for the GitHub and Google providers. Each carries its own
// verification so the Federation never inspects concrete types.
type Credential interface {
	verify(ctx context.Context, f *Federation) (*VerifiedIdentity, error)
}

// PasswordCredential is an email/password login attempt
type PasswordCredential struct {
	Email    string
	Password string
}

// ProviderAssertion is the verified result of an external provider callback.
// The OAuth handshake that produced it lives in the oauth2 package.
type ProviderAssertion struct {
	Provider      Provider
	Subject       string
	Email         string
	EmailVerified bool
}

// FederationPolicy decides what happens on the first federated login for an
// email with no account
type FederationPolicy string

const (
	// ProvisionOnFirstLogin creates a provider-only account (no password digest)
	ProvisionOnFirstLogin FederationPolicy = "provision"

	// RequireExistingAccount rejects federated logins for unknown emails
	RequireExistingAccount FederationPolicy = "require_existing"
)

// Federation turns credentials from any provider into a VerifiedIdentity
type Federation struct {
	Accounts AccountStore
	Hasher   *Hasher
	Policy   FederationPolicy
}

// Verify checks a credential and returns the identity it proves.
// Failures are ErrValidation, ErrInvalidCredentials or ErrInternal.
func (f *Federation) Verify(ctx context.Context, cred Credential) (*VerifiedIdentity, error) {
	if cred == nil {
		return nil, newValidationError("", "credential required")
	}
	return cred.verify(ctx, f)
}

func (c PasswordCredential) verify(ctx context.Context, f *Federation) (*VerifiedIdentity, error) {
	if c.Email == "" {
		return nil, newValidationError("email", "email and password are required")
	}
	if c.Password == "" {
		return nil, newValidationError("password", "email and password are required")
	}
	log := logutil.GetOrDefault(ctx)

	account, err := f.Accounts.FindByEmail(ctx, NormalizeEmail(c.Email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			f.Hasher.DummyVerify(ctx, c.Password)
			return nil, ErrInvalidCredentials
		}
		log.Error().Err(err).Msg("account lookup failed during login")
		return nil, fmt.Errorf("%w: account lookup", ErrInternal)
	}

	if !account.HasPassword() {
		f.Hasher.DummyVerify(ctx, c.Password)
		return nil, ErrInvalidCredentials
	}
	if !f.Hasher.Verify(ctx, c.Password, *account.PasswordDigest) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrInvalidCredentials
	}
	return &VerifiedIdentity{ID: account.ID, Email: account.Email}, nil
}

func (p ProviderAssertion) verify(ctx context.Context, f *Federation) (*VerifiedIdentity, error) {
	log := logutil.GetOrDefault(ctx).With().Str("provider", string(p.Provider)).Logger()

	switch p.Provider {
	case ProviderGitHub, ProviderGoogle:
	default:
		log.Warn().Msg("assertion from unsupported provider")
		return nil, ErrInvalidCredentials
	}
	if p.Subject == "" || p.Email == "" || !p.EmailVerified {
		log.Warn().Bool("email_verified", p.EmailVerified).Msg("provider assertion is incomplete")
		return nil, ErrInvalidCredentials
	}

	email := NormalizeEmail(p.Email)
	link := ProviderLink{Provider: p.Provider, Subject: p.Subject}

	// A subject already attached to an account decides the login before any
	// account is provisioned for the asserted email.
	linked, err := f.Accounts.FindByProvider(ctx, link)
	switch {
	case err == nil:
		if linked.Email != email {
			log.Warn().Str("account_id", linked.ID).Msg("provider subject belongs to another account")
			return nil, ErrInvalidCredentials
		}
		return &VerifiedIdentity{ID: linked.ID, Email: linked.Email}, nil
	case !errors.Is(err, ErrAccountNotFound):
		log.Error().Err(err).Msg("provider link lookup failed during federated login")
		return nil, fmt.Errorf("%w: link lookup", ErrInternal)
	}

	account, err := f.Accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		if f.Policy == RequireExistingAccount {
			log.Info().Msg("federated login for unknown email rejected by policy")
			return nil, ErrInvalidCredentials
		}
		account, err = f.provision(ctx, email)
	}
	if err != nil {
		log.Error().Err(err).Msg("account resolution failed during federated login")
		return nil, fmt.Errorf("%w: account resolution", ErrInternal)
	}

	if !account.IsLinked(link) {
		if err := f.Accounts.LinkProvider(ctx, account.ID, link); err != nil {
			if errors.Is(err, ErrConflict) {
				log.Warn().Str("account_id", account.ID).Msg("provider subject belongs to another account")
				return nil, ErrInvalidCredentials
			}
			log.Error().Err(err).Str("account_id", account.ID).Msg("linking provider failed")
			return nil, fmt.Errorf("%w: link provider", ErrInternal)
		}
		log.Info().Str("account_id", account.ID).Msg("linked provider to account")
	}
	return &VerifiedIdentity{ID: account.ID, Email: account.Email}, nil
}

// provision creates a provider-only account. A concurrent login for the same
// email may win the unique constraint, in which case the winner is returned.
func (f *Federation) provision(ctx context.Context, email string) (*Account, error) {
	account, err := f.Accounts.CreateAccount(ctx, email, nil)
	if errors.Is(err, ErrEmailTaken) {
		return f.Accounts.FindByEmail(ctx, email)
	}
	if err == nil {
		log := logutil.GetOrDefault(ctx)
		log.Info().Str("account_id", account.ID).Msg("provisioned account on first federated login")
	}
	return account, err
}
