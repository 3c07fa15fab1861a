package reelauth

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/panyam/reelauth/internal/logutil"
)

// App wires the account, session and upload handlers under /api/auth
type App struct {
	router *mux.Router

	// Handshake holds OAuth state, PKCE verifier and return URL between the
	// redirect to a provider and its callback. It never holds the session claim.
	Handshake  *scs.SessionManager
	Middleware Middleware

	Federation *Federation
	Sessions   *SessionIssuer
	Local      *LocalAuth
	Grantor    *UploadGrantor

	// Base logger. Each request gets a child logger carried in its context.
	Logger zerolog.Logger

	// Name of the session cookie. Defaults to reelauth_session.
	CookieName string

	// All the domains where the session cookie is set on login and cleared on logout
	CookieDomains []string
	CookieSecure  bool

	// Where failed provider logins are sent, with ?error= set to the provider
	// name or to "internal". Defaults to /login.
	LoginPath string

	providers map[Provider]http.Handler
}

// EnsureDefaults fills unset fields
func (a *App) EnsureDefaults() *App {
	if a.CookieName == "" {
		a.CookieName = "reelauth_session"
	}
	if a.LoginPath == "" {
		a.LoginPath = "/login"
	}
	if a.Handshake == nil {
		a.Handshake = scs.New()
		a.Handshake.Lifetime = 10 * time.Minute
		a.Handshake.Cookie.Name = "reelauth_handshake"
		a.Handshake.Cookie.HttpOnly = true
		a.Handshake.Cookie.SameSite = http.SameSiteLaxMode
		a.Handshake.Cookie.Secure = a.CookieSecure
	}
	if a.Middleware.Sessions == nil && a.Sessions != nil {
		a.Middleware.Sessions = a.Sessions
	}
	if a.Middleware.AuthTokenCookieName == "" {
		a.Middleware.AuthTokenCookieName = a.CookieName
	}
	if a.Local != nil && a.Local.HandleIdentity == nil {
		a.Local.HandleIdentity = a.IssueSession
	}
	return a
}

// AddProvider mounts an external provider's redirect and callback handlers
// under /api/auth/{provider}/. The handshake session is loaded around them.
func (a *App) AddProvider(provider Provider, handler http.Handler) *App {
	if a.providers == nil {
		a.providers = map[Provider]http.Handler{}
	}
	a.providers[provider] = handler
	a.router = nil
	return a
}

// Handler returns the routed application
func (a *App) Handler() http.Handler {
	return a.setupRoutes().router
}

func (a *App) setupRoutes() *App {
	if a.router != nil {
		return a
	}
	a.EnsureDefaults()

	r := mux.NewRouter()
	r.Use(a.withRequestLogger)

	api := r.PathPrefix("/api/auth").Subrouter()
	if a.Local != nil {
		api.HandleFunc("/register", a.Local.HandleRegister).Methods(http.MethodPost)
		api.Handle("/login", a.Local).Methods(http.MethodPost)
	}
	api.HandleFunc("/logout", a.onLogout).Methods(http.MethodPost, http.MethodGet)
	api.Handle("/session", a.Middleware.EnsureUser(http.HandlerFunc(a.onSession))).Methods(http.MethodGet)
	api.Handle("/imagekit-auth", a.Middleware.EnsureUser(http.HandlerFunc(a.onUploadGrant))).Methods(http.MethodGet)

	for provider, handler := range a.providers {
		prefix := "/api/auth/" + string(provider)
		api.PathPrefix("/" + string(provider) + "/").Handler(http.StripPrefix(prefix, a.Handshake.LoadAndSave(handler)))

		// Without the trailing slash the stripped path would be empty.
		// 308 keeps the method intact.
		api.HandleFunc("/"+string(provider), func(w http.ResponseWriter, r *http.Request) {
			target := prefix + "/"
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
		})
	}

	a.router = r
	return a
}

func (a *App) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := a.Logger.With().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		next.ServeHTTP(w, r.WithContext(logutil.WithLogger(r.Context(), log)))
	})
}

// IssueSession signs a session for identity, sets the session cookie and
// writes the login response
func (a *App) IssueSession(provider Provider, identity *VerifiedIdentity, w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context())
	token, claim, err := a.Sessions.Issue(identity)
	if err != nil {
		log.Error().Err(err).Msg("issuing session failed")
		writeAuthError(w, http.StatusInternalServerError, NewAuthError(ErrCodeInternal, "Login failed", ""))
		return
	}
	a.setSessionCookie(w, token, claim)
	log.Info().Str("account_id", identity.ID).Str("provider", string(provider)).Msg("session issued")

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": claim.ExpiresAt.UTC().Format(time.RFC3339),
		"user": map[string]string{
			"id":    identity.ID,
			"email": identity.Email,
		},
	})
}

// SaveAssertionAndRedirect is called by provider callbacks once the provider
// has vouched for an identity. It resolves the account, sets the session
// cookie and redirects to returnTo. The caller is a browser mid navigation,
// so failures also end in a redirect, to LoginPath.
func (a *App) SaveAssertionAndRedirect(assertion ProviderAssertion, returnTo string, w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context()).With().Str("provider", string(assertion.Provider)).Logger()

	identity, err := a.Federation.Verify(r.Context(), assertion)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			a.redirectLoginError(w, r, string(assertion.Provider))
			return
		}
		log.Error().Err(err).Msg("federated login failed")
		a.redirectLoginError(w, r, "internal")
		return
	}

	token, claim, err := a.Sessions.Issue(identity)
	if err != nil {
		log.Error().Err(err).Msg("issuing session failed")
		a.redirectLoginError(w, r, "internal")
		return
	}
	a.setSessionCookie(w, token, claim)
	log.Info().Str("account_id", identity.ID).Msg("session issued")

	http.Redirect(w, r, SafeReturnPath(returnTo), http.StatusFound)
}

func (a *App) redirectLoginError(w http.ResponseWriter, r *http.Request, reason string) {
	loginPath := a.LoginPath
	if loginPath == "" {
		loginPath = "/login"
	}
	http.Redirect(w, r, SafeReturnPath(loginPath)+"?error="+url.QueryEscape(reason), http.StatusFound)
}

// SafeReturnPath only lets local absolute paths through so a crafted
// callbackURL cannot bounce the session to another site
func SafeReturnPath(returnTo string) string {
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.HasPrefix(returnTo, "/\\") {
		return "/"
	}
	return returnTo
}

func (a *App) onSession(w http.ResponseWriter, r *http.Request) {
	claim := ClaimFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":    claim.SubjectID,
			"email": claim.Email,
		},
		"expires_at": claim.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *App) onUploadGrant(w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context()).With().Str("account_id", SubjectFromContext(r.Context())).Logger()
	if a.Grantor == nil {
		writeAuthError(w, http.StatusServiceUnavailable, NewAuthError(ErrCodeGrantUnavailable, "Uploads are not configured", ""))
		return
	}
	grant, err := a.Grantor.Grant(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("upload grant unavailable")
		writeAuthError(w, http.StatusServiceUnavailable, NewAuthError(ErrCodeGrantUnavailable, "Failed to authenticate upload", ""))
		return
	}
	log.Debug().Int64("expire", grant.Expire).Msg("upload grant issued")
	writeJSON(w, http.StatusOK, grant)
}

// onLogout discards the session cookie. Claims are stateless, so a copy of
// the token kept elsewhere stays valid until it expires.
func (a *App) onLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	log := logutil.GetOrDefault(r.Context())
	log.Info().Str("account_id", SubjectFromContext(r.Context())).Msg("logged out")

	if to := r.URL.Query().Get("to"); to != "" {
		http.Redirect(w, r, SafeReturnPath(to), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (a *App) cookieDomains() []string {
	domains := slices.Clone(a.CookieDomains)
	if !slices.Contains(domains, "") {
		domains = append(domains, "")
	}
	return domains
}

func (a *App) setSessionCookie(w http.ResponseWriter, token string, claim *SessionClaim) {
	maxAge := int(time.Until(claim.ExpiresAt).Seconds())
	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.CookieName,
			Value:    token,
			Domain:   domain,
			Path:     "/",
			Expires:  claim.ExpiresAt,
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   a.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (a *App) clearSessionCookie(w http.ResponseWriter) {
	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.CookieName,
			Value:    "",
			Domain:   domain,
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   a.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
