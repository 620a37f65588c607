package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamRegistryAddRemove(t *testing.T) {
	r := NewStreamRegistry()
	now := time.Now()
	if err := r.Add(StreamInfo{ID: "b", Started: now.Add(time.Second)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(StreamInfo{ID: "a", Started: now}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(StreamInfo{ID: "a"}); !errors.Is(err, ErrDuplicateStream) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 streams, got %d", r.Count())
	}
	list := r.List()
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("expected oldest first, got %+v", list)
	}
	if !r.Remove("a") || r.Remove("a") {
		t.Fatalf("remove must succeed once")
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 stream, got %d", r.Count())
	}
}

func TestStreamRegistryDrain(t *testing.T) {
	r := NewStreamRegistry()
	_ = r.Add(StreamInfo{ID: "x"})
	r.SetDraining(true)
	if err := r.Add(StreamInfo{ID: "y"}); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if r.WaitForEmpty(ctx, 5*time.Millisecond) {
		t.Fatalf("expected wait to time out with a stream in flight")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Remove("x")
	}()
	if err := RegistryDrainer(r).Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	r.SetDraining(false)
	_ = r.Add(StreamInfo{ID: "z"})
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := RegistryDrainer(r).Drain(short); err == nil {
		t.Fatalf("expected drain to give up with a stream in flight")
	}
}
