package reelauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinHashCost is the lowest bcrypt work factor the Hasher will use
const MinHashCost = 10

// bcrypt only looks at the first 72 bytes of its input
const maxPasswordBytes = 72

var generateDigest = bcrypt.GenerateFromPassword

// Hasher turns plaintext passwords into salted bcrypt digests and checks them.
// Both operations run off the calling goroutine so a cancelled request does not
// wait on the key derivation.
type Hasher struct {
	Cost int

	dummyOnce   sync.Once
	dummyDigest []byte
	dummyErr    error
}

// NewHasher returns a Hasher with the given cost, raised to MinHashCost if lower.
// It panics if the digest DummyVerify compares against cannot be generated,
// which only happens when the system random source fails.
func NewHasher(cost int) *Hasher {
	if cost < MinHashCost {
		cost = MinHashCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	h := &Hasher{Cost: cost}
	if err := h.initDummy(); err != nil {
		panic(fmt.Sprintf("reelauth: generating dummy digest: %v", err))
	}
	return h
}

// initDummy generates the digest DummyVerify compares against, at the same
// cost as real digests so timing matches
func (h *Hasher) initDummy() error {
	h.dummyOnce.Do(func() {
		h.dummyDigest, h.dummyErr = generateDigest([]byte("reelauth-dummy-password"), h.cost())
	})
	return h.dummyErr
}

// Hash returns a new digest for plaintext. Two calls with the same input
// return different digests since the salt is random and embedded.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", newValidationError("password", "password is required")
	}
	if len(plaintext) > maxPasswordBytes {
		return "", newValidationError("password", "password must be at most 72 bytes")
	}

	type result struct {
		digest []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		d, err := generateDigest([]byte(plaintext), h.cost())
		done <- result{d, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, bcrypt.ErrPasswordTooLong) {
				return "", newValidationError("password", "password must be at most 72 bytes")
			}
			return "", errors.Join(ErrInternal, res.err)
		}
		return string(res.digest), nil
	}
}

// Verify reports whether plaintext matches digest. Mismatches, malformed
// digests and cancellation all yield false.
func (h *Hasher) Verify(ctx context.Context, plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return h.compare(ctx, []byte(digest), plaintext)
}

// DummyVerify spends the same work as a real Verify and always returns false.
// Login uses it for unknown emails so response time does not reveal whether
// an account exists.
func (h *Hasher) DummyVerify(ctx context.Context, plaintext string) bool {
	if h.initDummy() != nil {
		return false
	}
	h.compare(ctx, h.dummyDigest, plaintext)
	return false
}

func (h *Hasher) compare(ctx context.Context, digest []byte, plaintext string) bool {
	done := make(chan bool, 1)
	go func() {
		done <- bcrypt.CompareHashAndPassword(digest, []byte(plaintext)) == nil
	}()
	select {
	case <-ctx.Done():
		return false
	case ok := <-done:
		return ok
	}
}

func (h *Hasher) cost() int {
	if h.Cost < MinHashCost {
		return MinHashCost
	}
	return h.Cost
}
