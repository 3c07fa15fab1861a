package reelauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/panyam/reelauth/internal/logutil"
)

// HandleIdentityFunc is called once a provider has produced a verified identity.
// It is responsible for issuing the session and writing the response.
type HandleIdentityFunc func(provider Provider, identity *VerifiedIdentity, w http.ResponseWriter, r *http.Request)

// RateLimiter throttles login attempts per key
type RateLimiter interface {
	Allow(key string) bool
}

// LocalAuth serves email/password registration and login
type LocalAuth struct {
	// Verifies login credentials
	Federation *Federation

	// Creates accounts on registration
	CreateAccount CreateAccountFunc

	// Called after a successful login
	HandleIdentity HandleIdentityFunc

	// Optional login throttle, keyed by client IP and email
	RateLimiter RateLimiter

	// Peers whose X-Forwarded-For and X-Real-IP headers are believed.
	// Empty means the throttle keys on the connection address only.
	TrustedProxies []netip.Prefix

	// Form field names
	EmailField    string
	PasswordField string
}

// ServeHTTP handles login requests
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.Federation == nil || a.HandleIdentity == nil {
		writeAuthError(w, http.StatusInternalServerError, NewAuthError(ErrCodeInternal, "Login not configured", ""))
		return
	}
	log := logutil.GetOrDefault(r.Context())

	creds, authErr := a.parseCredentials(r)
	if authErr != nil {
		writeAuthError(w, http.StatusBadRequest, authErr)
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, "Email and password are required", missingField(creds)))
		return
	}

	if a.RateLimiter != nil && !a.RateLimiter.Allow(clientIP(r, a.TrustedProxies)+":"+NormalizeEmail(creds.Email)) {
		writeAuthError(w, http.StatusTooManyRequests, NewAuthError(ErrCodeRateLimited, "Too many login attempts", ""))
		return
	}

	identity, err := a.Federation.Verify(r.Context(), PasswordCredential{Email: creds.Email, Password: creds.Password})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			log.Info().Msg("login rejected")
			writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeInvalidCreds, "Invalid email or password", ""))
		case errors.Is(err, ErrValidation):
			writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, err.Error(), ValidationField(err)))
		default:
			log.Error().Err(err).Msg("login failed")
			writeAuthError(w, http.StatusInternalServerError, NewAuthError(ErrCodeInternal, "Login failed", ""))
		}
		return
	}

	a.HandleIdentity(ProviderLocal, identity, w, r)
}

// HandleRegister processes account registration
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if a.CreateAccount == nil {
		writeAuthError(w, http.StatusInternalServerError, NewAuthError(ErrCodeInternal, "Registration not configured", ""))
		return
	}
	log := logutil.GetOrDefault(r.Context())

	creds, authErr := a.parseCredentials(r)
	if authErr != nil {
		writeAuthError(w, http.StatusBadRequest, authErr)
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeMissingField, "Email and password are required", missingField(creds)))
		return
	}

	account, err := a.CreateAccount(r.Context(), creds)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			writeAuthError(w, http.StatusBadRequest, NewAuthError(ErrCodeEmailExists, "User already registered", "email"))
		case errors.Is(err, ErrValidation):
			code := ErrCodeInvalidEmail
			if ValidationField(err) == "password" {
				code = ErrCodeWeakPassword
			}
			writeAuthError(w, http.StatusBadRequest, NewAuthError(code, err.Error(), ValidationField(err)))
		default:
			log.Error().Err(err).Msg("registration failed")
			writeAuthError(w, http.StatusInternalServerError, NewAuthError(ErrCodeInternal, "Failed to register user", ""))
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user_id": account.ID,
	})
}

func (a *LocalAuth) parseCredentials(r *http.Request) (*Credentials, *AuthError) {
	emailField := a.getEmailField()
	passwordField := a.getPasswordField()
	creds := &Credentials{}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, NewAuthError(ErrCodeInvalidRequestBody, "Error parsing form", "")
		}
		creds.Email = r.FormValue(emailField)
		creds.Password = r.FormValue(passwordField)
	} else {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, NewAuthError(ErrCodeInvalidRequestBody, "Invalid request body", "")
		}
		creds.Email, _ = data[emailField].(string)
		creds.Password, _ = data[passwordField].(string)
	}
	creds.Email = strings.TrimSpace(creds.Email)
	return creds, nil
}

func (a *LocalAuth) getEmailField() string {
	if a.EmailField != "" {
		return a.EmailField
	}
	return "email"
}

func (a *LocalAuth) getPasswordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

func missingField(creds *Credentials) string {
	if creds.Email == "" {
		return "email"
	}
	return "password"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAuthError(w http.ResponseWriter, status int, err *AuthError) {
	writeJSON(w, status, err)
}

// ParseTrustedProxies parses CIDR prefixes or bare addresses
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the connection's peer address. Forwarding headers are
// only read when that peer is a trusted proxy, and then the right-most
// untrusted hop wins since everything left of it is client supplied.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}
