package reelauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionMaxAge is how long an issued session claim stays valid
const DefaultSessionMaxAge = 30 * 24 * time.Hour

// MinSecretKeyLength is the shortest HMAC key the SessionIssuer accepts
const MinSecretKeyLength = 32

// SessionClaim is the decoded content of a session token
type SessionClaim struct {
	SubjectID string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionClaims is the JWT form of a SessionClaim
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and checks stateless, HMAC signed session tokens.
//
// There is no server side session table and no revocation list. A token is
// trusted until its exp passes.
type SessionIssuer struct {
	secret []byte
	issuer string
	maxAge time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewSessionIssuer creates an issuer signing with secret. maxAge <= 0 uses DefaultSessionMaxAge.
func NewSessionIssuer(secret, issuer string, maxAge time.Duration) (*SessionIssuer, error) {
	if len(secret) < MinSecretKeyLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretKeyLength)
	}
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return &SessionIssuer{
		secret: []byte(secret),
		issuer: issuer,
		maxAge: maxAge,
		Now:    time.Now,
	}, nil
}

// MaxAge returns how long issued tokens are valid
func (s *SessionIssuer) MaxAge() time.Duration { return s.maxAge }

func (s *SessionIssuer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Issue signs a new session token for identity
func (s *SessionIssuer) Issue(identity *VerifiedIdentity) (string, *SessionClaim, error) {
	if identity == nil || identity.ID == "" {
		return "", nil, newValidationError("", "identity with an id is required")
	}

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.maxAge)

	claims := sessionClaims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: sign session: %v", ErrInternal, err)
	}

	return signed, &SessionClaim{
		SubjectID: identity.ID,
		Email:     identity.Email,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Authorize returns the subject of a valid token, or ErrUnauthenticated
func (s *SessionIssuer) Authorize(token string) (string, error) {
	claim, err := s.Decode(token)
	if err != nil {
		return "", err
	}
	return claim.SubjectID, nil
}

// Decode verifies a token and returns its claim. Every failure, including
// malformed input, is reported as ErrUnauthenticated.
func (s *SessionIssuer) Decode(tokenString string) (claim *SessionClaim, err error) {
	defer func() {
		if r := recover(); r != nil {
			claim, err = nil, fmt.Errorf("%w: %v", ErrUnauthenticated, r)
		}
	}()
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	out := &SessionClaim{SubjectID: claims.Subject, Email: claims.Email}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	out.ExpiresAt = claims.ExpiresAt.Time
	return out, nil
}
