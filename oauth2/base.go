// Package oauth2 runs the redirect and callback legs of the GitHub and Google
// logins. Each provider turns a successful callback into a
// reelauth.ProviderAssertion and hands it to a HandleAssertionFunc.
package oauth2

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"

	"github.com/panyam/reelauth"
	"github.com/panyam/reelauth/internal/logutil"
)

// Keys in the handshake session
const (
	sessionKeyState    = "oauth_state"
	sessionKeyVerifier = "oauth_verifier"
	sessionKeyReturnTo = "oauth_return_to"
)

var (
	errMissingState  = errors.New("oauth state missing from handshake session")
	errStateMismatch = errors.New("invalid oauth state")
	errMissingCode   = errors.New("oauth code missing")
)

// HandleAssertionFunc receives the provider's verified assertion together
// with the return path captured when the handshake started
type HandleAssertionFunc func(assertion reelauth.ProviderAssertion, returnTo string, w http.ResponseWriter, r *http.Request)

// BaseOAuth2 holds what GitHub and Google logins share: the oauth2 config,
// the redirect leg and the state/PKCE checks on the callback leg.
//
// State, PKCE verifier and return path live in the scs handshake session so
// nothing the client can forge travels in a plain cookie. The handler must be
// wrapped in Session.LoadAndSave.
type BaseOAuth2 struct {
	Provider        reelauth.Provider
	ClientID        string
	ClientSecret    string
	CallbackURL     string
	Session         *scs.SessionManager
	HandleAssertion HandleAssertionFunc

	// Where to send the browser when the provider leg fails
	AuthFailureURL string

	oauthConfig oauth2.Config
	httpClient  *http.Client
	mux         *http.ServeMux
}

// NewBaseOAuth2 creates the shared part of a provider login
func NewBaseOAuth2(provider reelauth.Provider, clientID, clientSecret, callbackURL string, session *scs.SessionManager, handle HandleAssertionFunc) *BaseOAuth2 {
	out := &BaseOAuth2{
		Provider:        provider,
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		CallbackURL:     callbackURL,
		Session:         session,
		HandleAssertion: handle,
		AuthFailureURL:  "/login?error=" + string(provider),
		mux:             http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
		},
	}
	out.mux.HandleFunc("/", out.handleStart)
	return out
}

// Handler serves / (start) and /callback/ relative to the mount point
func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

// SetHTTPClient overrides the client used for the token exchange and API calls
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

// SetOAuthEndpoint overrides the provider's auth and token URLs
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return http.DefaultClient
}

// ExchangeContext returns ctx carrying the injectable HTTP client for x/oauth2
func (b *BaseOAuth2) ExchangeContext(ctx context.Context) context.Context {
	if b.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func (b *BaseOAuth2) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	// A fresh token prevents fixation of a handshake started elsewhere.
	if err := b.Session.RenewToken(ctx); err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Error().Err(err).Msg("renewing handshake session failed")
		http.Error(w, "could not start login", http.StatusInternalServerError)
		return
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()
	b.Session.Put(ctx, sessionKeyState, state)
	b.Session.Put(ctx, sessionKeyVerifier, verifier)
	if returnTo := r.URL.Query().Get("callbackURL"); returnTo != "" {
		b.Session.Put(ctx, sessionKeyReturnTo, returnTo)
	}

	u := b.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, u, http.StatusFound)
}

// exchange checks the callback's state against the handshake session and
// trades the code for a token. State and verifier are single use.
func (b *BaseOAuth2) exchange(r *http.Request) (*oauth2.Token, string, error) {
	ctx := r.Context()
	state := b.Session.PopString(ctx, sessionKeyState)
	verifier := b.Session.PopString(ctx, sessionKeyVerifier)
	returnTo := b.Session.PopString(ctx, sessionKeyReturnTo)

	if state == "" {
		return nil, "", errMissingState
	}
	if r.FormValue("state") != state {
		return nil, "", errStateMismatch
	}
	code := r.FormValue("code")
	if code == "" {
		return nil, "", errMissingCode
	}

	token, err := b.oauthConfig.Exchange(b.ExchangeContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, "", err
	}
	return token, returnTo, nil
}

// handleCallback runs the shared callback steps and calls assert to turn the
// token into an assertion
func (b *BaseOAuth2) handleCallback(w http.ResponseWriter, r *http.Request, assert func(ctx context.Context, token *oauth2.Token) (*reelauth.ProviderAssertion, error)) {
	log := logutil.GetOrDefault(r.Context()).With().Str("provider", string(b.Provider)).Logger()

	if errParam := r.FormValue("error"); errParam != "" {
		log.Info().Str("error", errParam).Msg("provider denied login")
		http.Redirect(w, r, b.AuthFailureURL, http.StatusFound)
		return
	}

	token, returnTo, err := b.exchange(r)
	if errors.Is(err, errMissingState) || errors.Is(err, errStateMismatch) || errors.Is(err, errMissingCode) {
		log.Warn().Err(err).Msg("rejecting oauth callback")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Info().Err(err).Msg("code exchange failed")
		http.Redirect(w, r, b.AuthFailureURL, http.StatusFound)
		return
	}

	assertion, err := assert(r.Context(), token)
	if err != nil {
		log.Info().Err(err).Msg("provider identity could not be verified")
		http.Redirect(w, r, b.AuthFailureURL, http.StatusFound)
		return
	}
	b.HandleAssertion(*assertion, returnTo, w, r)
}
