// Package cache holds synthesized audio between streams. Every backend is
// best-effort: callers treat errors as misses and never fail a stream on them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache: closed")

// Cache stores raw audio keyed by Key.
type Cache interface {
	// Get returns the value and true on a hit. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Available reports whether the backend is currently usable.
	Available() bool
	// Name identifies the backend in logs and metrics.
	Name() string
	Close() error
}

// Key derives the audio cache key from the normalized text, language and
// resolved voice. Case and runs of whitespace do not change the key.
func Key(text, language, voice string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm + "\x00" + strings.ToLower(language) + "\x00" + voice))
	return "tts:" + hex.EncodeToString(sum[:])
}

// Noop is the disabled cache: always a miss, never stores.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Available() bool                                          { return false }
func (Noop) Name() string                                             { return "noop" }
func (Noop) Close() error                                             { return nil }

var _ Cache = Noop{}
