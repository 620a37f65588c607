package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDraining        = errors.New("pipeline: not accepting new streams")
	ErrDuplicateStream = errors.New("pipeline: stream id already in flight")
)

// StreamInfo describes one stream in flight.
type StreamInfo struct {
	ID       string    `json:"id"`
	ClientID string    `json:"clientId,omitempty"`
	Audio    bool      `json:"audio"`
	Language string    `json:"language,omitempty"`
	Started  time.Time `json:"started"`
}

// StreamRegistry tracks the streams currently in flight. It is shared by
// every stream of the process and only used for introspection and drain.
type StreamRegistry struct {
	streams  sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{}
}

func (r *StreamRegistry) Add(info StreamInfo) error {
	if r.draining.Load() {
		return ErrDraining
	}
	if _, loaded := r.streams.LoadOrStore(info.ID, info); loaded {
		return ErrDuplicateStream
	}
	r.count.Add(1)
	return nil
}

// Remove reports whether id was registered.
func (r *StreamRegistry) Remove(id string) bool {
	if _, ok := r.streams.LoadAndDelete(id); ok {
		r.count.Add(-1)
		return true
	}
	return false
}

func (r *StreamRegistry) Get(id string) (StreamInfo, bool) {
	if v, ok := r.streams.Load(id); ok {
		return v.(StreamInfo), true
	}
	return StreamInfo{}, false
}

func (r *StreamRegistry) Has(id string) bool {
	_, ok := r.streams.Load(id)
	return ok
}

func (r *StreamRegistry) Count() int64 {
	return r.count.Load()
}

// List returns the streams in flight, oldest first.
func (r *StreamRegistry) List() []StreamInfo {
	var out []StreamInfo
	r.streams.Range(func(_, value any) bool {
		out = append(out, value.(StreamInfo))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (r *StreamRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *StreamRegistry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until no stream is in flight or ctx ends.
func (r *StreamRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
