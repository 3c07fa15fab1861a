// Package reelauth handles accounts, sessions and upload grants for a video
// sharing service.
//
// An account is keyed by its normalized email. It may carry a bcrypt password
// digest and any number of linked external provider subjects (GitHub, Google).
// Whatever the login method, the result is a VerifiedIdentity, which the
// SessionIssuer turns into a signed, stateless session token.
//
// # Components
//
//   - Hasher: salted bcrypt digests and their verification
//   - AccountStore: persistence, implemented under stores/ (fs, gorm, gae, mongo)
//   - Federation: turns a PasswordCredential or a ProviderAssertion into a VerifiedIdentity
//   - SessionIssuer: HS256 session tokens with a 30 day default lifetime
//   - UploadGrantor: short lived signatures for direct client to storage uploads
//
// # Basic Usage
//
//	accounts := fs.NewFSAccountStore("/var/lib/reelauth")
//	hasher := reelauth.NewHasher(reelauth.MinHashCost)
//	sessions, err := reelauth.NewSessionIssuer(secret, "reelauth", 0)
//
//	federation := &reelauth.Federation{Accounts: accounts, Hasher: hasher}
//	app := &reelauth.App{
//	    Federation: federation,
//	    Sessions:   sessions,
//	    Local: &reelauth.LocalAuth{
//	        Federation:    federation,
//	        CreateAccount: reelauth.NewCreateAccountFunc(accounts, hasher, nil),
//	    },
//	}
//	http.ListenAndServe(":8080", app.Handler())
//
// External providers live in the oauth2 package and are mounted with
// App.AddProvider. Their callbacks hand a ProviderAssertion to
// App.SaveAssertionAndRedirect.
//
// # Sessions
//
// Session tokens are read from the Authorization header (Bearer) or the
// session cookie. There is no server side session table, so logout only
// clears the cookie and a copied token stays valid until it expires.
package reelauth
