package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process LRU bounded by entry count. The ttl given to
// NewMemory caps every entry; a shorter per-Set ttl is honoured on read.
type Memory struct {
	lru    *expirable.LRU[string, memoryEntry]
	closed atomic.Bool
	now    func() time.Time
}

func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Memory{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrClosed
	}
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	// Expired entries stay until the LRU drops them; a later Set replaces them.
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		return nil, false, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	e := memoryEntry{value: cp}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int { return m.lru.Len() }

func (m *Memory) Available() bool { return !m.closed.Load() }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.lru.Purge()
	}
	return nil
}

var _ Cache = (*Memory)(nil)
