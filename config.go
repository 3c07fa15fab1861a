package reelauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. It is parsed once at start up and
// handed to each component; nothing below the command reads the environment.
type Config struct {
	// HTTP
	ListenAddr    string   `env:"REELAUTH_LISTEN_ADDR"      envDefault:"localhost:8080"`
	BaseURL       string   `env:"REELAUTH_BASE_URL"         envDefault:"http://localhost:8080"`
	CookieDomains []string `env:"REELAUTH_COOKIE_DOMAINS"   envSeparator:","`
	CookieSecure  bool     `env:"REELAUTH_COOKIE_SECURE"    envDefault:"false"`

	// Sessions
	SessionSecret     string        `env:"REELAUTH_SESSION_SECRET"`
	SessionIssuer     string        `env:"REELAUTH_SESSION_ISSUER"      envDefault:"reelauth"`
	SessionMaxAge     time.Duration `env:"REELAUTH_SESSION_MAX_AGE"     envDefault:"720h"`
	SessionCookieName string        `env:"REELAUTH_SESSION_COOKIE_NAME" envDefault:"reelauth_session"`

	// Password hashing
	HashCost int `env:"REELAUTH_HASH_COST" envDefault:"10"`

	// Login throttling. Zero attempts disables the limiter.
	LoginAttempts int           `env:"REELAUTH_LOGIN_ATTEMPTS" envDefault:"10"`
	LoginWindow   time.Duration `env:"REELAUTH_LOGIN_WINDOW"   envDefault:"15m"`

	// Reverse proxies (CIDR or address) whose forwarding headers name the client
	TrustedProxies []string `env:"REELAUTH_TRUSTED_PROXIES" envSeparator:","`

	// Federation. Failed provider logins are redirected to LoginPath.
	LoginPath          string `env:"REELAUTH_LOGIN_PATH"        envDefault:"/login"`
	FederationPolicy   string `env:"REELAUTH_FEDERATION_POLICY" envDefault:"provision"`
	GitHubClientID     string `env:"REELAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"REELAUTH_GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"REELAUTH_GITHUB_CALLBACK_URL"`
	GoogleClientID     string `env:"REELAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"REELAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"REELAUTH_GOOGLE_CALLBACK_URL"`

	// Upload grants
	UploadPublicKey   string        `env:"REELAUTH_UPLOAD_PUBLIC_KEY"`
	UploadPrivateKey  string        `env:"REELAUTH_UPLOAD_PRIVATE_KEY"`
	UploadURLEndpoint string        `env:"REELAUTH_UPLOAD_URL_ENDPOINT"`
	UploadGrantTTL    time.Duration `env:"REELAUTH_UPLOAD_GRANT_TTL" envDefault:"10m"`

	// Storage: fs, gorm, gae or mongo
	StoreBackend     string `env:"REELAUTH_STORE"             envDefault:"fs"`
	StorePath        string `env:"REELAUTH_STORE_PATH"        envDefault:"./data"`
	StoreDSN         string `env:"REELAUTH_STORE_DSN"`
	DatastoreProject string `env:"REELAUTH_DATASTORE_PROJECT"`
	StoreNamespace   string `env:"REELAUTH_STORE_NAMESPACE"`
	MongoDatabase    string `env:"REELAUTH_MONGO_DATABASE"    envDefault:"reelauth"`

	// Logging
	LogLevel  string `env:"REELAUTH_LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"REELAUTH_LOG_PRETTY" envDefault:"false"`
}

// LoadConfig parses the environment into a Config and validates it
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and normalizes the rest
func (c *Config) Validate() error {
	var errs []error

	c.SessionSecret = strings.TrimSpace(c.SessionSecret)
	if len(c.SessionSecret) < MinSecretKeyLength {
		errs = append(errs, fmt.Errorf("REELAUTH_SESSION_SECRET must be at least %d bytes", MinSecretKeyLength))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("REELAUTH_SESSION_MAX_AGE must be positive"))
	}
	if c.UploadGrantTTL <= 0 || c.UploadGrantTTL > MaxGrantTTL {
		errs = append(errs, fmt.Errorf("REELAUTH_UPLOAD_GRANT_TTL must be in (0, %s]", MaxGrantTTL))
	}
	if c.HashCost < MinHashCost {
		errs = append(errs, fmt.Errorf("REELAUTH_HASH_COST must be at least %d", MinHashCost))
	}

	if _, err := ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("REELAUTH_TRUSTED_PROXIES: %w", err))
	}

	switch FederationPolicy(c.FederationPolicy) {
	case ProvisionOnFirstLogin, RequireExistingAccount:
	default:
		errs = append(errs, fmt.Errorf("REELAUTH_FEDERATION_POLICY must be %q or %q", ProvisionOnFirstLogin, RequireExistingAccount))
	}

	switch c.StoreBackend {
	case "fs":
	case "gorm", "mongo":
		if c.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("REELAUTH_STORE_DSN is required for the %s store", c.StoreBackend))
		}
	case "gae":
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("REELAUTH_DATASTORE_PROJECT is required for the gae store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REELAUTH_STORE %q", c.StoreBackend))
	}

	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, errors.New("REELAUTH_GITHUB_CLIENT_ID and REELAUTH_GITHUB_CLIENT_SECRET must be set together"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("REELAUTH_GOOGLE_CLIENT_ID and REELAUTH_GOOGLE_CLIENT_SECRET must be set together"))
	}

	upload := 0
	for _, v := range []string{c.UploadPublicKey, c.UploadPrivateKey, c.UploadURLEndpoint} {
		if v != "" {
			upload++
		}
	}
	if upload != 0 && upload != 3 {
		errs = append(errs, errors.New("REELAUTH_UPLOAD_PUBLIC_KEY, REELAUTH_UPLOAD_PRIVATE_KEY and REELAUTH_UPLOAD_URL_ENDPOINT must be set together"))
	}

	return errors.Join(errs...)
}

// GitHubEnabled reports whether GitHub login is configured
func (c *Config) GitHubEnabled() bool { return c.GitHubClientID != "" }

// GoogleEnabled reports whether Google login is configured
func (c *Config) GoogleEnabled() bool { return c.GoogleClientID != "" }

// UploadsEnabled reports whether upload grants can be issued
func (c *Config) UploadsEnabled() bool {
	return c.UploadPublicKey != "" && c.UploadPrivateKey != "" && c.UploadURLEndpoint != ""
}

// CallbackURL returns the configured callback for provider, defaulting to
// BaseURL + /api/auth/{provider}/callback/
func (c *Config) CallbackURL(provider Provider) string {
	switch provider {
	case ProviderGitHub:
		if c.GitHubCallbackURL != "" {
			return c.GitHubCallbackURL
		}
	case ProviderGoogle:
		if c.GoogleCallbackURL != "" {
			return c.GoogleCallbackURL
		}
	}
	return strings.TrimSuffix(c.BaseURL, "/") + "/api/auth/" + string(provider) + "/callback/"
}
