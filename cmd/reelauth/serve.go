package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/panyam/reelauth"
	"github.com/panyam/reelauth/internal/httpserver"
	"github.com/panyam/reelauth/internal/logutil"
	"github.com/panyam/reelauth/oauth2"
	"github.com/panyam/reelauth/ratelimit"
)

func serveCmd() *cli.Command {
	var bind string
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the auth HTTP server. Configuration is read from REELAUTH_* variables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to listen on, overrides REELAUTH_LISTEN_ADDR",
				Destination: &bind,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := reelauth.LoadConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.ListenAddr = bind
			}
			logger := logutil.New(cfg.LogLevel, cfg.LogPretty)
			appCtx := logutil.WithLogger(ctx.Context, logger)

			accounts, closeStore, err := openStore(appCtx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			app, err := buildApp(appCtx, cfg, accounts)
			if err != nil {
				return err
			}
			if app.Local != nil {
				if limiter, ok := app.Local.RateLimiter.(*ratelimit.AttemptLimiter); ok {
					defer limiter.Close()
				}
			}

			logger.Info().
				Str("store", cfg.StoreBackend).
				Bool("github", cfg.GitHubEnabled()).
				Bool("google", cfg.GoogleEnabled()).
				Bool("uploads", cfg.UploadsEnabled()).
				Msg("reelauth configured")
			return httpserver.Serve(appCtx, cfg.ListenAddr, app.Handler())
		},
	}
}

// buildApp assembles the HTTP application from cfg
func buildApp(ctx context.Context, cfg *reelauth.Config, accounts reelauth.AccountStore) (*reelauth.App, error) {
	hasher := reelauth.NewHasher(cfg.HashCost)
	sessions, err := reelauth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionMaxAge)
	if err != nil {
		return nil, err
	}
	federation := &reelauth.Federation{
		Accounts: accounts,
		Hasher:   hasher,
		Policy:   reelauth.FederationPolicy(cfg.FederationPolicy),
	}

	proxies, err := reelauth.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	local := &reelauth.LocalAuth{
		Federation:     federation,
		CreateAccount:  reelauth.NewCreateAccountFunc(accounts, hasher, nil),
		TrustedProxies: proxies,
	}
	if cfg.LoginAttempts > 0 {
		limiter, err := ratelimit.NewAttemptLimiter(ctx, cfg.LoginAttempts, cfg.LoginWindow)
		if err != nil {
			return nil, fmt.Errorf("login limiter: %w", err)
		}
		local.RateLimiter = limiter
	}

	app := &reelauth.App{
		Federation:    federation,
		Sessions:      sessions,
		Local:         local,
		Logger:        logutil.GetOrDefault(ctx),
		CookieName:    cfg.SessionCookieName,
		CookieDomains: cfg.CookieDomains,
		CookieSecure:  cfg.CookieSecure,
		LoginPath:     cfg.LoginPath,
	}

	if cfg.UploadsEnabled() {
		authority, err := reelauth.NewImageKitAuthority(cfg.UploadPrivateKey, cfg.UploadPublicKey, cfg.UploadURLEndpoint)
		if err != nil {
			return nil, err
		}
		app.Grantor = reelauth.NewUploadGrantor(authority, cfg.UploadGrantTTL)
	}

	// Providers need the handshake session, so defaults go first.
	app.EnsureDefaults()
	if cfg.GitHubEnabled() {
		github := oauth2.NewGithubOAuth2(cfg.GitHubClientID, cfg.GitHubClientSecret,
			cfg.CallbackURL(reelauth.ProviderGitHub), app.Handshake, app.SaveAssertionAndRedirect)
		app.AddProvider(reelauth.ProviderGitHub, github.Handler())
	}
	if cfg.GoogleEnabled() {
		google := oauth2.NewGoogleOAuth2(cfg.GoogleClientID, cfg.GoogleClientSecret,
			cfg.CallbackURL(reelauth.ProviderGoogle), app.Handshake, app.SaveAssertionAndRedirect)
		app.AddProvider(reelauth.ProviderGoogle, google.Handler())
	}
	return app, nil
}
