package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/panyam/reelauth"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL and EmailsURL default to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
	EmailsURL   string
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func NewGithubOAuth2(clientID, clientSecret, callbackURL string, session *scs.SessionManager, handle HandleAssertionFunc) *GithubOAuth2 {
	out := &GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2(reelauth.ProviderGitHub, clientID, clientSecret, callbackURL, session, handle),
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
	out.oauthConfig.Endpoint = github.Endpoint
	out.oauthConfig.Scopes = []string{"read:user", "user:email"}

	out.mux.HandleFunc("/callback/", func(w http.ResponseWriter, r *http.Request) {
		out.handleCallback(w, r, out.assert)
	})
	return out
}

// assert builds the assertion from /user and /user/emails. GitHub's profile
// email is not necessarily verified, so the verified flag comes from the
// emails list: the primary address if verified, else none.
func (g *GithubOAuth2) assert(ctx context.Context, token *oauth2.Token) (*reelauth.ProviderAssertion, error) {
	var user githubUser
	if err := g.getJSON(ctx, token, g.UserInfoURL, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github user has no id")
	}

	var emails []githubEmail
	if err := g.getJSON(ctx, token, g.EmailsURL, &emails); err != nil {
		return nil, err
	}

	out := &reelauth.ProviderAssertion{
		Provider: reelauth.ProviderGitHub,
		Subject:  strconv.FormatInt(user.ID, 10),
	}
	for _, e := range emails {
		if e.Primary {
			out.Email = e.Email
			out.EmailVerified = e.Verified
			break
		}
	}
	if out.Email == "" {
		out.Email = user.Email
	}
	return out, nil
}

func (g *GithubOAuth2) getJSON(ctx context.Context, token *oauth2.Token, url string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	response, err := g.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed getting %s from github: %w", url, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s returned %d", url, response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to parse github response: %w", err)
	}
	return nil
}
