// Package ratelimit throttles repeated login attempts per key.
package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// AttemptLimiter allows at most Max attempts per key in each fixed window.
// Counters live in a bigcache and are dropped by its cleaner once the window
// has passed, so memory stays bounded by the number of active keys.
type AttemptLimiter struct {
	Max    int
	Window time.Duration

	mu    sync.Mutex
	cache *bigcache.BigCache
	now   func() time.Time
}

// NewAttemptLimiter creates a limiter. The cache is closed when ctx is done.
func NewAttemptLimiter(ctx context.Context, max int, window time.Duration) (*AttemptLimiter, error) {
	if max <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	config := bigcache.DefaultConfig(window)
	config.CleanWindow = window
	config.Verbose = false
	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, err
	}
	return &AttemptLimiter{Max: max, Window: window, cache: cache, now: time.Now}, nil
}

// entry layout: 8 bytes window start (unix nanos), 4 bytes count
func decode(buf []byte) (start int64, count uint32, ok bool) {
	if len(buf) != 12 {
		return 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(buf[:8])), binary.BigEndian.Uint32(buf[8:]), true
}

func encode(start int64, count uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[:8], uint64(start))
	binary.BigEndian.PutUint32(buf[8:], count)
	return buf
}

// Allow records an attempt for key and reports whether it is within the limit
func (l *AttemptLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixNano()
	start, count := now, uint32(0)
	if buf, err := l.cache.Get(key); err == nil {
		if s, c, ok := decode(buf); ok && now-s < int64(l.Window) {
			start, count = s, c
		}
	}
	count++
	l.cache.Set(key, encode(start, count))
	return int(count) <= l.Max
}

// Reset forgets all attempts for key
func (l *AttemptLimiter) Reset(key string) {
	l.cache.Delete(key)
}

// Close releases the cache
func (l *AttemptLimiter) Close() error {
	return l.cache.Close()
}
