package reelauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ra "github.com/panyam/reelauth"
	"github.com/panyam/reelauth/ratelimit"
	"github.com/panyam/reelauth/stores/fs"
)

type testApp struct {
	*ra.App
	handler http.Handler
}

func newTestApp(t *testing.T, configure ...func(*ra.App)) *testApp {
	t.Helper()
	accounts := fs.NewFSAccountStore(t.TempDir())
	hasher := ra.NewHasher(ra.MinHashCost)
	sessions, err := ra.NewSessionIssuer(testSecret, "reelauth-test", 0)
	require.NoError(t, err)
	federation := &ra.Federation{Accounts: accounts, Hasher: hasher, Policy: ra.ProvisionOnFirstLogin}
	app := &ra.App{
		Federation: federation,
		Sessions:   sessions,
		Local: &ra.LocalAuth{
			Federation:    federation,
			CreateAccount: ra.NewCreateAccountFunc(accounts, hasher, nil),
		},
		Grantor: ra.NewUploadGrantor(newAuthority(t), 0),
	}
	for _, c := range configure {
		c(app)
	}
	return &testApp{App: app, handler: app.Handler()}
}

func (a *testApp) post(t *testing.T, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) register(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.post(t, "/api/auth/register", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.UserID
}

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.post(t, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Token
}

func TestRegisterAndLogin(t *testing.T) {
	app := newTestApp(t)

	apitest.Handler(app.handler).
		Post("/api/auth/register").
		JSON(`{"email":"a@x.com","password":"secret1"}`).
		Expect(t).
		Status(http.StatusCreated).
		Assert(jsonpath.Equal("$.message", "User registered successfully")).
		Assert(jsonpath.Present("$.user_id")).
		Assert(jsonpath.NotPresent("$.password")).
		End()

	apitest.Handler(app.handler).
		Post("/api/auth/register").
		JSON(`{"email":"A@x.com","password":"another1"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.code", "email_exists")).
		End()

	apitest.Handler(app.handler).
		Post("/api/auth/login").
		JSON(`{"email":"a@x.com","password":"wrong"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(`{"code":"invalid_credentials","error":"Invalid email or password"}`).
		End()

	apitest.Handler(app.handler).
		Post("/api/auth/login").
		JSON(`{"email":"nobody@x.com","password":"secret1"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Body(`{"code":"invalid_credentials","error":"Invalid email or password"}`).
		End()

	apitest.Handler(app.handler).
		Post("/api/auth/login").
		JSON(`{"email":"a@x.com","password":"secret1"}`).
		Expect(t).
		Status(http.StatusOK).
		CookiePresent("reelauth_session").
		Header("Cache-Control", "no-store").
		Assert(jsonpath.Present("$.token")).
		Assert(jsonpath.Present("$.expires_at")).
		Assert(jsonpath.Equal("$.user.email", "a@x.com")).
		End()
}

func TestLoginClaimNamesTheAccount(t *testing.T) {
	app := newTestApp(t)
	id := app.register(t, "a@x.com", "secret1")
	token := app.login(t, "a@x.com", "secret1")

	claim, err := app.Sessions.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, id, claim.SubjectID)
	assert.WithinDuration(t, time.Now().Add(ra.DefaultSessionMaxAge), claim.ExpiresAt, time.Minute)
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"missing email", `{"password":"secret1"}`, "missing_field"},
		{"missing password", `{"email":"a@x.com"}`, "missing_field"},
		{"invalid email", `{"email":"not-an-email","password":"secret1"}`, "invalid_email"},
		{"short password", `{"email":"a@x.com","password":"12345"}`, "weak_password"},
		{"unparseable body", `{"email":`, "parse_error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			apitest.Handler(app.handler).
				Post("/api/auth/register").
				JSON(c.body).
				Expect(t).
				Status(http.StatusBadRequest).
				Assert(jsonpath.Equal("$.code", c.code)).
				End()
		})
	}

	t.Run("form encoded body", func(t *testing.T) {
		apitest.Handler(app.handler).
			Post("/api/auth/register").
			FormData("email", "form@x.com").
			FormData("password", "secret1").
			Expect(t).
			Status(http.StatusCreated).
			End()
	})
}

func TestLoginMissingFields(t *testing.T) {
	app := newTestApp(t)
	apitest.Handler(app.handler).
		Post("/api/auth/login").
		JSON(`{"email":"a@x.com"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.code", "missing_field")).
		Assert(jsonpath.Equal("$.field", "password")).
		End()
}

func newLimitedApp(t *testing.T, max int, trusted ...string) *testApp {
	t.Helper()
	limiter, err := ratelimit.NewAttemptLimiter(context.Background(), max, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })
	proxies, err := ra.ParseTrustedProxies(trusted)
	require.NoError(t, err)

	return newTestApp(t, func(a *ra.App) {
		a.Local.RateLimiter = limiter
		a.Local.TrustedProxies = proxies
	})
}

func TestLoginRateLimited(t *testing.T) {
	app := newLimitedApp(t, 2)
	app.register(t, "a@x.com", "secret1")

	wrong := `{"email":"a@x.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		rec := app.post(t, "/api/auth/login", wrong)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := app.post(t, "/api/auth/login", `{"email":"a@x.com","password":"secret1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ra.AuthError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body.Code)

	// Other emails are counted separately
	app.register(t, "b@x.com", "secret1")
	app.login(t, "b@x.com", "secret1")
}

func TestLoginRateLimitIgnoresForwardingHeaders(t *testing.T) {
	app := newLimitedApp(t, 2)
	app.register(t, "a@x.com", "secret1")

	var codes []int
	for i := 0; i < 6; i++ {
		rec := app.post(t, "/api/auth/login", `{"email":"a@x.com","password":"wrong"}`,
			"X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i),
			"X-Real-IP", fmt.Sprintf("10.1.0.%d", i))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{401, 401, 429, 429, 429, 429}, codes)
}

func TestLoginRateLimitBehindTrustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1
	app := newLimitedApp(t, 2, "192.0.2.0/24")
	app.register(t, "a@x.com", "secret1")

	wrong := `{"email":"a@x.com","password":"wrong"}`
	for i := 0; i < 3; i++ {
		rec := app.post(t, "/api/auth/login", wrong, "X-Forwarded-For", "203.0.113.5")
		if i < 2 {
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}

	// A different client behind the same proxy has its own budget, and a
	// spoofed left-most hop does not change the key
	rec := app.post(t, "/api/auth/login", wrong, "X-Forwarded-For", "203.0.113.6")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = app.post(t, "/api/auth/login", wrong, "X-Forwarded-For", "1.2.3.4, 203.0.113.5")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ra.ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.7 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "192.0.2.7/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	_, err = ra.ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}

func TestSessionEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "a@x.com", "secret1")
	token := app.login(t, "a@x.com", "secret1")

	apitest.Handler(app.handler).
		Get("/api/auth/session").
		Expect(t).
		Status(http.StatusUnauthorized).
		HeaderPresent("WWW-Authenticate").
		Assert(jsonpath.Equal("$.code", "unauthenticated")).
		End()

	apitest.Handler(app.handler).
		Get("/api/auth/session").
		Header("Authorization", "Bearer "+token).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.user.email", "a@x.com")).
		End()

	apitest.Handler(app.handler).
		Get("/api/auth/session").
		Cookie("reelauth_session", token).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.Handler(app.handler).
		Get("/api/auth/session").
		Header("Authorization", "Bearer "+token[:len(token)-3]+"AAA").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()
}

func TestUploadGrantEndpoint(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		app := newTestApp(t)
		apitest.Handler(app.handler).
			Get("/api/auth/imagekit-auth").
			Expect(t).
			Status(http.StatusUnauthorized).
			End()
	})

	t.Run("issues a fresh verifiable grant per call", func(t *testing.T) {
		app := newTestApp(t)
		app.register(t, "a@x.com", "secret1")
		token := app.login(t, "a@x.com", "secret1")

		grants := make([]ra.UploadGrant, 2)
		for i := range grants {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/imagekit-auth", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			app.handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&grants[i]))
			assert.NoError(t, verifyGrant(testPrivateKey, &grants[i], time.Now()))
			assert.Equal(t, testPublicKey, grants[i].PublicKey)
		}
		assert.NotEqual(t, grants[0].Token, grants[1].Token)
	})

	t.Run("authority failure is 503", func(t *testing.T) {
		app := newTestApp(t, func(a *ra.App) { a.Grantor = ra.NewUploadGrantor(failingAuthority{}, 0) })
		app.register(t, "a@x.com", "secret1")
		token := app.login(t, "a@x.com", "secret1")

		apitest.Handler(app.handler).
			Get("/api/auth/imagekit-auth").
			Header("Authorization", "Bearer "+token).
			Expect(t).
			Status(http.StatusServiceUnavailable).
			Assert(jsonpath.Equal("$.code", "grant_unavailable")).
			Assert(jsonpath.NotPresent("$.signature")).
			End()
	})

	t.Run("unconfigured uploads are 503", func(t *testing.T) {
		app := newTestApp(t, func(a *ra.App) { a.Grantor = nil })
		app.register(t, "a@x.com", "secret1")
		token := app.login(t, "a@x.com", "secret1")

		apitest.Handler(app.handler).
			Get("/api/auth/imagekit-auth").
			Header("Authorization", "Bearer "+token).
			Expect(t).
			Status(http.StatusServiceUnavailable).
			End()
	})
}

func TestLogout(t *testing.T) {
	app := newTestApp(t, func(a *ra.App) { a.CookieDomains = []string{"x.com"} })

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Equal(t, "reelauth_session", c.Name)
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
		assert.True(t, c.HttpOnly)
	}

	apitest.Handler(app.handler).
		Get("/api/auth/logout").
		Query("to", "https://evil.example/").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/").
		End()
}

func TestSafeReturnPath(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/videos/1":           "/videos/1",
		"/?tab=likes":         "/?tab=likes",
		"https://evil.com/":   "/",
		"//evil.com/":         "/",
		"/\\evil.com":         "/",
		"javascript:alert(1)": "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, ra.SafeReturnPath(in), "input %q", in)
	}
}

func TestSaveAssertionAndRedirect(t *testing.T) {
	app := newTestApp(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verified := r.URL.Query().Get("verified") == "1"
		app.SaveAssertionAndRedirect(ra.ProviderAssertion{
			Provider:      ra.ProviderGitHub,
			Subject:       "42",
			Email:         "dev@x.com",
			EmailVerified: verified,
		}, r.URL.Query().Get("to"), w, r)
	})

	apitest.Handler(handler).
		Get("/callback").
		Query("verified", "1").
		Query("to", "/videos").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/videos").
		CookiePresent("reelauth_session").
		End()

	apitest.Handler(handler).
		Get("/callback").
		Query("to", "/videos").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/login?error=github").
		CookieNotPresent("reelauth_session").
		End()

	account, err := app.Federation.Accounts.FindByEmail(context.Background(), "dev@x.com")
	require.NoError(t, err)
	assert.True(t, account.IsLinked(ra.ProviderLink{Provider: ra.ProviderGitHub, Subject: "42"}))
}

func TestSaveAssertionRedirectsInternalFailures(t *testing.T) {
	app := newTestApp(t, func(a *ra.App) {
		a.LoginPath = "/signin"
		a.Federation = &ra.Federation{Accounts: brokenStore{}, Hasher: a.Federation.Hasher}
	})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.SaveAssertionAndRedirect(ra.ProviderAssertion{
			Provider:      ra.ProviderGoogle,
			Subject:       "g-1",
			Email:         "dev@x.com",
			EmailVerified: true,
		}, "/videos", w, r)
	})

	apitest.Handler(handler).
		Get("/callback").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/signin?error=internal").
		CookieNotPresent("reelauth_session").
		End()
}

func TestProviderMounting(t *testing.T) {
	var seen string
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Path
		w.WriteHeader(http.StatusTeapot)
	})
	app := newTestApp(t, func(a *ra.App) { a.AddProvider(ra.ProviderGitHub, stub) })

	apitest.Handler(app.handler).
		Get("/api/auth/github").
		Query("callbackURL", "/videos").
		Expect(t).
		Status(http.StatusPermanentRedirect).
		Header("Location", "/api/auth/github/?callbackURL=%2Fvideos").
		End()

	apitest.Handler(app.handler).
		Get("/api/auth/github/callback/").
		Expect(t).
		Status(http.StatusTeapot).
		End()
	assert.Equal(t, "/callback/", seen)
}
