package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/panyam/reelauth"
)

// ErrNotLoggedIn is returned by calls that need a session when none is stored
var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// SessionUser is the account a session belongs to
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SessionInfo is the response of the session endpoint
type SessionInfo struct {
	User      SessionUser `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      SessionUser `json:"user"`
}

// AuthClient is an HTTP client for a reelauth server
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	pathPrefix    string
	uploadPolicy  reelauth.UploadPolicy
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithPathPrefix sets where the auth API is mounted. Defaults to /api/auth.
func WithPathPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.pathPrefix = prefix
	}
}

// WithUploadPolicy sets the limits UploadGrantFor checks files against
func WithUploadPolicy(policy reelauth.UploadPolicy) ClientOption {
	return func(c *AuthClient) {
		c.uploadPolicy = policy
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	// Normalize server URL
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseTransport: http.DefaultTransport,
		pathPrefix:    "/api/auth",
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &AuthTransport{
		Base: c.baseTransport,
		Token: func() string {
			token, _ := c.GetToken()
			return token
		},
	}
	return c
}

// HTTPClient returns the underlying HTTP client, which sends the stored
// session token on every request
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored session token, or "" when there is none or it expired
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	return cred.AccessToken, nil
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.GetToken()
	return err == nil && token != ""
}

// Register creates an account. It does not log in.
func (c *AuthClient) Register(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/register", map[string]string{"email": email, "password": password}, nil)
}

// Login authenticates with email/password and stores the session token
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ServerCredential, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, errors.New("server returned no session token")
	}

	cred := &ServerCredential{
		AccessToken: resp.Token,
		UserID:      resp.User.ID,
		UserEmail:   resp.User.Email,
		ExpiresAt:   resp.ExpiresAt,
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Session returns the account behind the stored session
func (c *AuthClient) Session(ctx context.Context) (*SessionInfo, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var info SessionInfo
	if err := c.do(ctx, http.MethodGet, "/session", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UploadGrant asks the server for a one-off storage upload grant
func (c *AuthClient) UploadGrant(ctx context.Context) (*reelauth.UploadGrant, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var grant reelauth.UploadGrant
	if err := c.do(ctx, http.MethodGet, "/imagekit-auth", nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// UploadGrantFor checks a file against the upload policy and only then asks
// for a grant, so files the storage provider would refuse never consume one.
func (c *AuthClient) UploadGrantFor(ctx context.Context, kind reelauth.MediaKind, contentType string, size int64) (*reelauth.UploadGrant, error) {
	if err := c.uploadPolicy.Check(kind, contentType, size); err != nil {
		return nil, err
	}
	return c.UploadGrant(ctx)
}

// Logout tells the server to clear its cookie and forgets the local credential.
// The token itself stays valid until it expires.
func (c *AuthClient) Logout(ctx context.Context) error {
	// Best effort: the local credential is dropped even if the server is unreachable
	serverErr := c.do(ctx, http.MethodPost, "/logout", nil, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return serverErr
}

func (c *AuthClient) do(ctx context.Context, method, path string, body any, into any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.pathPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(data, apiErr)
		return apiErr
	}
	if into != nil {
		if err := json.Unmarshal(data, into); err != nil {
			return fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return nil
}
