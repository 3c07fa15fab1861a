package reelauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/panyam/reelauth/internal/logutil"
)

type contextKey string

const (
	contextKeySubject contextKey = "reelauth_subject"
	contextKeyClaim   contextKey = "reelauth_claim"
)

// ClaimDecoder verifies a session token. *SessionIssuer implements it.
type ClaimDecoder interface {
	Decode(token string) (*SessionClaim, error)
}

// Middleware gates handlers on a valid session claim taken from the
// Authorization header or the session cookie
type Middleware struct {
	Sessions            ClaimDecoder
	AuthTokenHeaderName string
	AuthTokenCookieName string
}

// EnsureReasonableDefaults fills unset fields
func (a *Middleware) EnsureReasonableDefaults() {
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
	if a.AuthTokenCookieName == "" {
		a.AuthTokenCookieName = "reelauth_session"
	}
}

// SubjectFromContext returns the authenticated account id, or "" when anonymous
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeySubject).(string); ok {
		return v
	}
	return ""
}

// ClaimFromContext returns the decoded session claim, or nil when anonymous
func ClaimFromContext(ctx context.Context) *SessionClaim {
	if v, ok := ctx.Value(contextKeyClaim).(*SessionClaim); ok {
		return v
	}
	return nil
}

// WithClaim stores claim in ctx
func WithClaim(ctx context.Context, claim *SessionClaim) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject, claim.SubjectID)
	return context.WithValue(ctx, contextKeyClaim, claim)
}

// Authenticate returns the claim carried by r, trying the header first and
// then the cookie. It returns ErrUnauthenticated when neither holds a valid token.
func (a *Middleware) Authenticate(r *http.Request) (*SessionClaim, error) {
	a.EnsureReasonableDefaults()
	var candidates []string
	for _, h := range r.Header.Values(a.AuthTokenHeaderName) {
		if token := bearerToken(h); token != "" {
			candidates = append(candidates, token)
		}
	}
	for _, cookie := range r.CookiesNamed(a.AuthTokenCookieName) {
		if cookie.Value != "" {
			candidates = append(candidates, cookie.Value)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrUnauthenticated
	}

	var lastErr error = ErrUnauthenticated
	for _, token := range candidates {
		claim, err := a.Sessions.Decode(token)
		if err == nil {
			return claim, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// ExtractUser puts the session claim into the request context when present
// but lets anonymous requests through
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claim, err := a.Authenticate(r); err == nil {
			r = r.WithContext(WithClaim(r.Context(), claim))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without a valid session claim with a 401
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claim, err := a.Authenticate(r)
		if err != nil {
			log := logutil.GetOrDefault(r.Context())
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejecting unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="reelauth"`)
			writeAuthError(w, http.StatusUnauthorized, NewAuthError(ErrCodeUnauthenticated, "Authentication required", ""))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaim(r.Context(), claim)))
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
