package reelauth

import (
	"fmt"
	"regexp"
)

// DefaultMinPasswordLength is the shortest password accepted at registration
const DefaultMinPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Credentials is an email/password pair submitted for registration or login
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupValidator validates credentials during registration
type SignupValidator func(creds *Credentials) error

// SignupPolicy holds the registration rules
type SignupPolicy struct {
	MinPasswordLength int
}

// GetMinPasswordLength returns the configured minimum or the default
func (p SignupPolicy) GetMinPasswordLength() int {
	if p.MinPasswordLength > 0 {
		return p.MinPasswordLength
	}
	return DefaultMinPasswordLength
}

// Validator returns a SignupValidator enforcing this policy
func (p SignupPolicy) Validator() SignupValidator {
	return func(creds *Credentials) error {
		if creds.Email == "" {
			return newValidationError("email", "email is required")
		}
		if creds.Password == "" {
			return newValidationError("password", "password is required")
		}
		if !emailRegex.MatchString(NormalizeEmail(creds.Email)) {
			return newValidationError("email", "invalid email format")
		}
		if minLen := p.GetMinPasswordLength(); len(creds.Password) < minLen {
			return newValidationError("password", fmt.Sprintf("password must be at least %d characters", minLen))
		}
		if len(creds.Password) > maxPasswordBytes {
			return newValidationError("password", "password must be at most 72 bytes")
		}
		return nil
	}
}

// DefaultSignupValidator validates with the default SignupPolicy
var DefaultSignupValidator SignupValidator = SignupPolicy{}.Validator()
