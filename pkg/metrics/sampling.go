package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly rate of the events it sees. When names
// are given only those events are sampled; all others pass through, which
// keeps per-chunk noise down without losing stream boundaries.
type SamplingObserver struct {
	inner       Observer
	rate        float64
	sampleEvery uint64
	counter     atomic.Uint64
	only        map[string]struct{}
}

func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}
	var every uint64
	if rate == 0 {
		every = 0
	} else if rate == 1 {
		every = 1
	} else {
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	var only map[string]struct{}
	if len(names) > 0 {
		only = make(map[string]struct{}, len(names))
		for _, n := range names {
			only[n] = struct{}{}
		}
	}
	return &SamplingObserver{inner: inner, rate: rate, sampleEvery: every, only: only}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.only != nil {
		if _, ok := s.only[ev.Name]; !ok {
			s.inner.RecordEvent(ev)
			return
		}
	}
	if s.rate == 0 {
		return
	}
	if s.sampleEvery <= 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if n := s.counter.Add(1); n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
