package metrics

import (
	"math"
	"sort"
)

// Summary describes one latency sample window in milliseconds.
type Summary struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Percentile uses the nearest-rank method on an ascending slice:
// index = ceil(p/100*n)-1, clamped to the slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Summarize leaves samples untouched.
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Summary{
		Count: len(sorted),
		Avg:   sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   Percentile(sorted, 50),
		P95:   Percentile(sorted, 95),
		P99:   Percentile(sorted, 99),
	}
}

// window is a FIFO-capped sample buffer.
type window struct {
	cap     int
	samples []float64
}

func newWindow(capacity int) *window {
	return &window{cap: capacity, samples: make([]float64, 0, capacity)}
}

func (w *window) add(v float64) {
	if len(w.samples) >= w.cap {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, v)
}

// ring keeps the last cap activity events.
type ring struct {
	buf   []ActivityEvent
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]ActivityEvent, capacity)}
}

func (r *ring) push(ev ActivityEvent) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// last returns up to limit events, newest first.
func (r *ring) last(limit int) []ActivityEvent {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]ActivityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
