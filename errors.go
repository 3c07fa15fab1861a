package reelauth

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every public operation translates lower level failures
// (store drivers, crypto, provider calls) into one of these before returning.
var (
	// ErrValidation is returned for missing or malformed input
	ErrValidation = errors.New("validation error")

	// ErrConflict is returned when a write would violate a uniqueness rule
	ErrConflict = errors.New("conflict")

	// ErrEmailTaken is the registration flavour of ErrConflict
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)

	// ErrInvalidCredentials covers wrong email/password and unverifiable
	// federated identities. It is always reported with the same message.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnauthenticated is returned when a session claim is missing, expired
	// or carries a bad signature
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrGrantUnavailable is returned when the signing authority cannot issue an upload grant
	ErrGrantUnavailable = errors.New("upload grant unavailable")

	// ErrInternal wraps unexpected failures. Details go to the log, never to the caller.
	ErrInternal = errors.New("internal error")

	// ErrAccountNotFound is returned by stores when no account matches
	ErrAccountNotFound = errors.New("account not found")
)

// Error codes used in JSON error bodies
const (
	ErrCodeMissingField       = "missing_field"
	ErrCodeInvalidEmail       = "invalid_email"
	ErrCodeWeakPassword       = "weak_password"
	ErrCodeEmailExists        = "email_exists"
	ErrCodeInvalidCreds       = "invalid_credentials"
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeGrantUnavailable   = "grant_unavailable"
	ErrCodeInternal           = "internal_error"
	ErrCodeInvalidRequestBody = "parse_error"
)

// AuthError is the user facing form of an error, rendered as JSON by the handlers
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthError creates a new AuthError
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// validationError wraps ErrValidation with a field specific message
type validationError struct {
	field string
	msg   string
}

func (v *validationError) Error() string { return v.msg }
func (v *validationError) Unwrap() error { return ErrValidation }

func newValidationError(field, msg string) error {
	return &validationError{field: field, msg: msg}
}

// ValidationField returns the offending field of a validation error, if known
func ValidationField(err error) string {
	var v *validationError
	if errors.As(err, &v) {
		return v.field
	}
	return ""
}
