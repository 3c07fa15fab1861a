package reelauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imagekit-developer/imagekit-go"

	"github.com/panyam/reelauth/internal/logutil"
)

const (
	// DefaultGrantTTL is how long an upload grant stays valid
	DefaultGrantTTL = 10 * time.Minute

	// MaxGrantTTL is the longest expiry the storage provider accepts
	MaxGrantTTL = time.Hour
)

// UploadGrant authorizes one direct client to storage upload
type UploadGrant struct {
	Token     string `json:"token"`
	Expire    int64  `json:"expire"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

// ExpiresAt returns Expire as a time
func (g *UploadGrant) ExpiresAt() time.Time {
	return time.Unix(g.Expire, 0)
}

// SigningAuthority signs upload grants on behalf of the storage provider
type SigningAuthority interface {
	// Sign returns the signature for token valid until expire (unix seconds)
	Sign(ctx context.Context, token string, expire int64) (string, error)

	// PublicKey is handed to the client along with the grant
	PublicKey() string
}

// UploadGrantor issues a fresh grant per upload request. Grants are never
// cached or handed out twice.
type UploadGrantor struct {
	Authority SigningAuthority
	TTL       time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewUploadGrantor creates a grantor. ttl <= 0 uses DefaultGrantTTL and ttl is
// capped at MaxGrantTTL.
func NewUploadGrantor(authority SigningAuthority, ttl time.Duration) *UploadGrantor {
	return &UploadGrantor{Authority: authority, TTL: ttl, Now: time.Now}
}

func (g *UploadGrantor) ttl() time.Duration {
	switch {
	case g.TTL <= 0:
		return DefaultGrantTTL
	case g.TTL > MaxGrantTTL:
		return MaxGrantTTL
	}
	return g.TTL
}

// Grant mints a new upload grant. Any failure of the authority is reported as
// ErrGrantUnavailable and is not retried.
func (g *UploadGrantor) Grant(ctx context.Context) (*UploadGrant, error) {
	if g.Authority == nil {
		return nil, fmt.Errorf("%w: no signing authority configured", ErrGrantUnavailable)
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	token := uuid.NewString()
	expire := now().Add(g.ttl()).Unix()

	signature, err := g.Authority.Sign(ctx, token, expire)
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Error().Err(err).Msg("signing authority failed to sign upload grant")
		return nil, fmt.Errorf("%w: %v", ErrGrantUnavailable, err)
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrGrantUnavailable)
	}

	return &UploadGrant{
		Token:     token,
		Expire:    expire,
		Signature: signature,
		PublicKey: g.Authority.PublicKey(),
	}, nil
}

// ImageKitAuthority signs grants with the storage provider's server SDK.
// The private key never leaves this process; clients only see the signature.
type ImageKitAuthority struct {
	ik        *imagekit.ImageKit
	publicKey string
}

// NewImageKitAuthority creates an authority for the given key pair and URL endpoint
func NewImageKitAuthority(privateKey, publicKey, urlEndpoint string) (*ImageKitAuthority, error) {
	if privateKey == "" {
		return nil, errors.New("upload private key is required")
	}
	if publicKey == "" {
		return nil, errors.New("upload public key is required")
	}
	if urlEndpoint == "" {
		return nil, errors.New("upload url endpoint is required")
	}
	ik, err := imagekit.NewFromParams(imagekit.NewParams{
		PrivateKey:  privateKey,
		PublicKey:   publicKey,
		UrlEndpoint: urlEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("imagekit client: %w", err)
	}
	return &ImageKitAuthority{ik: ik, publicKey: publicKey}, nil
}

func (a *ImageKitAuthority) PublicKey() string { return a.publicKey }

func (a *ImageKitAuthority) Sign(ctx context.Context, token string, expire int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	signed := a.ik.SignToken(imagekit.SignTokenParam{Token: token, Expires: expire})
	if signed.Token != token || signed.Expires != expire {
		return "", errors.New("imagekit signed different parameters than requested")
	}
	return signed.Signature, nil
}
