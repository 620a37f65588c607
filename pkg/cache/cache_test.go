package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newBadgerCache(t *testing.T) *Badger {
	t.Helper()
	c, err := NewBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKeyNormalization(t *testing.T) {
	a := Key("Hello   World.", "en", "voice-1")
	b := Key(" hello world. ", "EN", "voice-1")
	if a != b {
		t.Fatalf("expected equal keys for normalized text")
	}
	if a == Key("Hello World.", "en", "voice-2") {
		t.Fatalf("voice must change the key")
	}
	if a == Key("Hello World.", "hi", "voice-1") {
		t.Fatalf("language must change the key")
	}
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("noop must always miss")
	}
	if c.Available() {
		t.Fatalf("noop is never available")
	}
}

func TestMemoryTTLAndCopy(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100, 0)
	m := NewMemory(4, 0)
	m.now = func() time.Time { return now }

	val := []byte("audio")
	if err := m.Set(ctx, "k", val, time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	val[0] = 'X'
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != "audio" {
		t.Fatalf("get = %q %v %v", got, ok, err)
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Hour)
	_ = m.Set(ctx, "a", []byte("1"), time.Hour)
	_ = m.Set(ctx, "b", []byte("2"), time.Hour)
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatalf("expected hit on a")
	}
	_ = m.Set(ctx, "c", []byte("3"), time.Hour)
	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Fatalf("least recently used entry should have been evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Fatalf("recently read entry must survive eviction")
	}
}

func TestMemoryRefreshReplacesExpiredEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100, 0)
	m := NewMemory(4, 0)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", []byte("old"), time.Second)
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	_ = m.Set(ctx, "k", []byte("new"), time.Second)
	got, ok, _ := m.Get(ctx, "k")
	if !ok || string(got) != "new" {
		t.Fatalf("get after refresh = %q %v", got, ok)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory(1, time.Minute)
	_ = m.Close()
	if m.Available() {
		t.Fatalf("closed cache must be unavailable")
	}
	if _, _, err := m.Get(context.Background(), "k"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBadgerGetSet(t *testing.T) {
	ctx := context.Background()
	c := newBadgerCache(t)

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	want := []byte{0x01, 0x02, 0x03}
	if err := c.Set(ctx, "k", want, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, want) {
		t.Fatalf("get = %v %v %v", got, ok, err)
	}
	_ = c.Close()
	if c.Available() {
		t.Fatalf("closed badger cache must be unavailable")
	}
	if err := c.Set(ctx, "k", want, 0); err != ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestRedisUnreachableDegrades(t *testing.T) {
	ctx := context.Background()
	r := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond}, nil)
	defer r.Close()
	if r.Available() {
		t.Fatalf("unreachable redis must start unavailable")
	}
	if _, ok, err := r.Get(ctx, "k"); ok || err == nil {
		t.Fatalf("expected error miss, got ok=%v err=%v", ok, err)
	}
	if err := r.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected set error")
	}
}
