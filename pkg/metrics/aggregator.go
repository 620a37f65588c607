package metrics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/logging"
)

const (
	DefaultSampleCap     = 1000
	DefaultRecentEvents  = 100
	DefaultUserStaleness = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Cache classes reported by the speech layer.
const CacheClassAudio = "audio"

// Activity kinds kept in the recent-events ring.
const (
	ActivitySuccess = "success"
	ActivityError   = "error"
	ActivityWarning = "warning"
	ActivityAborted = "aborted"
)

// StreamStats is what a finished stream reports.
type StreamStats struct {
	SessionID         string
	ClientID          string
	FirstTokenLatency time.Duration
	FirstAudioLatency time.Duration
	Duration          time.Duration
	WordCount         int
	Tokens            int
	Sentences         int
	AudioChunks       int
	ResponseBytes     int64
}

// ActivityEvent is one entry of the live activity view.
type ActivityEvent struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"sessionId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMs float64   `json:"durationMs,omitempty"`
}

type AggregatorOptions struct {
	SampleCap     int
	RecentEvents  int
	UserStaleness time.Duration
	SweepInterval time.Duration
	// Observer receives one event per recorded activity.
	Observer Observer
	Logger   *slog.Logger
}

type cacheCounter struct {
	hits   int64
	misses int64
}

// Aggregator holds process-wide stream metrics. It is safe for concurrent
// use; construct one per process and share it.
type Aggregator struct {
	opts     AggregatorOptions
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu          sync.Mutex
	started     time.Time
	total       int64
	successful  int64
	failed      int64
	aborted     int64
	active      int
	peakActive  int
	firstToken  *window
	firstAudio  *window
	duration    *window
	cache       map[string]*cacheCounter
	errors      map[string]int64
	tokens      int64
	words       int64
	sentences   int64
	audioChunks int64
	respBytes   int64
	users       map[string]time.Time
	recent      *ring
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	if opts.SampleCap <= 0 {
		opts.SampleCap = DefaultSampleCap
	}
	if opts.RecentEvents <= 0 {
		opts.RecentEvents = DefaultRecentEvents
	}
	if opts.UserStaleness <= 0 {
		opts.UserStaleness = DefaultUserStaleness
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	observer := opts.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	a := &Aggregator{
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "metrics"),
		observer: observer,
		now:      time.Now,
	}
	a.resetLocked()
	return a
}

func (a *Aggregator) resetLocked() {
	a.started = a.now()
	a.total, a.successful, a.failed, a.aborted = 0, 0, 0, 0
	a.peakActive = a.active
	a.firstToken = newWindow(a.opts.SampleCap)
	a.firstAudio = newWindow(a.opts.SampleCap)
	a.duration = newWindow(a.opts.SampleCap)
	a.cache = make(map[string]*cacheCounter)
	a.errors = make(map[string]int64)
	a.tokens, a.words, a.sentences, a.audioChunks, a.respBytes = 0, 0, 0, 0, 0
	a.users = make(map[string]time.Time)
	a.recent = newRing(a.opts.RecentEvents)
}

// RecordSuccess counts a completed stream and keeps its latency samples.
// Zero first-token or first-audio latencies mean the stream never got
// that far and are not sampled.
func (a *Aggregator) RecordSuccess(s StreamStats) {
	now := a.now()
	a.mu.Lock()
	a.total++
	a.successful++
	if s.FirstTokenLatency > 0 {
		a.firstToken.add(millis(s.FirstTokenLatency))
	}
	if s.FirstAudioLatency > 0 {
		a.firstAudio.add(millis(s.FirstAudioLatency))
	}
	a.duration.add(millis(s.Duration))
	a.tokens += int64(s.Tokens)
	a.words += int64(s.WordCount)
	a.sentences += int64(s.Sentences)
	a.audioChunks += int64(s.AudioChunks)
	a.respBytes += s.ResponseBytes
	if id := userKey(s.ClientID, s.SessionID); id != "" {
		a.users[id] = now
	}
	a.recent.push(ActivityEvent{
		Time:       now,
		Kind:       ActivitySuccess,
		SessionID:  s.SessionID,
		DurationMs: millis(s.Duration),
	})
	a.mu.Unlock()

	ev := NewEvent(EventStreamEnd, s.SessionID, millis(s.Duration))
	ev.Time = now
	ev.Tags[TagOutcome] = ActivitySuccess
	ev.Fields = map[string]any{
		"tokens":       s.Tokens,
		"words":        s.WordCount,
		"sentences":    s.Sentences,
		"audio_chunks": s.AudioChunks,
	}
	a.observer.RecordEvent(ev)
}

// RecordError counts a failed stream under kind.
func (a *Aggregator) RecordError(kind string, err error) {
	a.RecordStreamError("", kind, err)
}

// RecordStreamError is RecordError with the failing stream's id attached
// to the activity entry.
func (a *Aggregator) RecordStreamError(sessionID, kind string, err error) {
	kind = normalizeKind(kind)
	now := a.now()
	a.mu.Lock()
	a.total++
	a.failed++
	a.errors[kind]++
	a.recent.push(ActivityEvent{
		Time:      now,
		Kind:      ActivityError,
		SessionID: sessionID,
		Reason:    kind,
		Message:   errMessage(err),
	})
	a.mu.Unlock()

	a.logger.Debug("stream failure recorded", "session_id", sessionID, "reason_code", kind, "error", err)
	ev := NewEvent(EventStreamEnd, sessionID, 1)
	ev.Time = now
	ev.Tags[TagOutcome] = ActivityError
	ev.Tags[TagReason] = kind
	a.observer.RecordEvent(ev)
}

// RecordWarning counts a non-fatal failure. It shows up under errors by
// kind but does not touch the request totals.
func (a *Aggregator) RecordWarning(sessionID, kind string, err error) {
	kind = normalizeKind(kind)
	now := a.now()
	a.mu.Lock()
	a.errors[kind]++
	a.recent.push(ActivityEvent{
		Time:      now,
		Kind:      ActivityWarning,
		SessionID: sessionID,
		Reason:    kind,
		Message:   errMessage(err),
	})
	a.mu.Unlock()

	ev := NewEvent(EventSpeechError, sessionID, 1)
	ev.Time = now
	ev.Tags[TagReason] = kind
	a.observer.RecordEvent(ev)
}

// RecordAborted counts a stream whose client went away. Aborted streams
// are neither successes nor failures.
func (a *Aggregator) RecordAborted(sessionID string) {
	now := a.now()
	a.mu.Lock()
	a.aborted++
	a.recent.push(ActivityEvent{Time: now, Kind: ActivityAborted, SessionID: sessionID})
	a.mu.Unlock()

	ev := NewEvent(EventStreamEnd, sessionID, 0)
	ev.Time = now
	ev.Tags[TagOutcome] = ActivityAborted
	a.observer.RecordEvent(ev)
}

func (a *Aggregator) RecordCacheHit(class string) {
	a.mu.Lock()
	a.cacheCounter(class).hits++
	a.mu.Unlock()
}

func (a *Aggregator) RecordCacheMiss(class string) {
	a.mu.Lock()
	a.cacheCounter(class).misses++
	a.mu.Unlock()
}

func (a *Aggregator) cacheCounter(class string) *cacheCounter {
	if class == "" {
		class = "default"
	}
	c, ok := a.cache[class]
	if !ok {
		c = &cacheCounter{}
		a.cache[class] = c
	}
	return c
}

// UpdateActiveCount sets the number of streams currently in flight.
func (a *Aggregator) UpdateActiveCount(n int) {
	a.mu.Lock()
	a.active = n
	if n > a.peakActive {
		a.peakActive = n
	}
	a.mu.Unlock()
}

// TrackUser marks id as seen now.
func (a *Aggregator) TrackUser(id string) {
	if id == "" {
		return
	}
	now := a.now()
	a.mu.Lock()
	a.users[id] = now
	a.mu.Unlock()
}

// Sweep drops users not seen within the staleness window and reports how
// many were removed.
func (a *Aggregator) Sweep() int {
	cutoff := a.now().Add(-a.opts.UserStaleness)
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, seen := range a.users {
		if seen.Before(cutoff) {
			delete(a.users, id)
			removed++
		}
	}
	return removed
}

// Run sweeps stale users on a fixed interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				a.logger.Debug("stale users swept", "removed", n)
			}
		}
	}
}

// RecentEvents returns up to limit activity entries, newest first. A
// non-positive limit returns everything retained.
func (a *Aggregator) RecentEvents(limit int) []ActivityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recent.last(limit)
}

// Reset clears all counters, samples and activity. The active count is
// kept since streams in flight are still in flight.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Requests: RequestStats{
			Total:       a.total,
			Successful:  a.successful,
			Failed:      a.failed,
			Aborted:     a.aborted,
			Active:      a.active,
			PeakActive:  a.peakActive,
			UniqueUsers: len(a.users),
			SuccessRate: rate(a.successful, a.total),
		},
		Latency: LatencyStats{
			FirstToken: Summarize(a.firstToken.samples),
			FirstAudio: Summarize(a.firstAudio.samples),
			Total:      Summarize(a.duration.samples),
		},
		Cache:  make(map[string]CacheStats, len(a.cache)),
		Errors: make(map[string]int64, len(a.errors)),
		Resources: ResourceStats{
			TotalResponseBytes: a.respBytes,
			TotalTokens:        a.tokens,
			TotalWords:         a.words,
			TotalSentences:     a.sentences,
			TotalAudioChunks:   a.audioChunks,
		},
		Uptime: UptimeStats{
			StartedAt: a.started,
			Seconds:   now.Sub(a.started).Seconds(),
		},
	}
	if a.successful > 0 {
		snap.Resources.AvgResponseBytes = float64(a.respBytes) / float64(a.successful)
	}
	for class, c := range a.cache {
		snap.Cache[class] = CacheStats{
			Hits:    c.hits,
			Misses:  c.misses,
			HitRate: rate(c.hits, c.hits+c.misses),
		}
	}
	for kind, n := range a.errors {
		snap.Errors[kind] = n
	}
	return snap
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// rate is part/whole as a percentage in [0,100]; zero when whole is zero.
func rate(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	r := float64(part) / float64(whole) * 100
	if r > 100 {
		r = 100
	}
	return r
}

func userKey(clientID, sessionID string) string {
	if clientID != "" {
		return clientID
	}
	return sessionID
}

func normalizeKind(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "unknown"
	}
	return kind
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
