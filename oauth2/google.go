package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/panyam/reelauth"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleOAuth2 logs in with Google's OIDC flow. Identity comes from the
// id_token returned by the code exchange, checked by Verifier.
type GoogleOAuth2 struct {
	*BaseOAuth2

	Verifier *oidc.IDTokenVerifier
}

func NewGoogleOAuth2(clientID, clientSecret, callbackURL string, session *scs.SessionManager, handle HandleAssertionFunc) *GoogleOAuth2 {
	out := &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2(reelauth.ProviderGoogle, clientID, clientSecret, callbackURL, session, handle),
	}
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}

	// Keys are fetched lazily on first verify so start up does not need the network.
	keySet := oidc.NewRemoteKeySet(context.Background(), googleJWKSURL)
	out.Verifier = oidc.NewVerifier(googleIssuer, keySet, &oidc.Config{ClientID: clientID})

	out.mux.HandleFunc("/callback/", func(w http.ResponseWriter, r *http.Request) {
		out.handleCallback(w, r, out.assert)
	})
	return out
}

func (g *GoogleOAuth2) assert(ctx context.Context, token *oauth2.Token) (*reelauth.ProviderAssertion, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("google did not return id_token")
	}

	idToken, err := g.Verifier.Verify(oidc.ClientContext(ctx, g.getHTTPClient()), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("google id_token verification failed: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google id_token claims parse failed: %w", err)
	}

	return &reelauth.ProviderAssertion{
		Provider:      reelauth.ProviderGoogle,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}
