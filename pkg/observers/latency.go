package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/metrics"
)

// LatencyReport is the per-stream latency breakdown in milliseconds. A
// value of -1 means the stream never reached that point.
type LatencyReport struct {
	StreamID     string
	FirstTokenMs int64
	FirstAudioMs int64
	TokenToAudio int64
	DurationMs   int64
	Outcome      string
}

// LatencyObserver correlates the lifecycle events of each stream and logs
// one breakdown when the stream ends.
type LatencyObserver struct {
	mu       sync.Mutex
	traces   map[string]*trace
	log      *slog.Logger
	onReport func(LatencyReport)
}

type trace struct {
	start      time.Time
	firstToken time.Time
	firstAudio time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

// OnReport registers a hook called with every finished breakdown.
func (o *LatencyObserver) OnReport(fn func(LatencyReport)) {
	o.mu.Lock()
	o.onReport = fn
	o.mu.Unlock()
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ev.Tags[metrics.TagStreamID]
	if streamID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[streamID]
	if t == nil {
		t = &trace{}
		o.traces[streamID] = t
	}
	switch ev.Name {
	case metrics.EventStreamStart:
		if t.start.IsZero() {
			t.start = ev.Time
		}
	case metrics.EventFirstToken:
		if t.firstToken.IsZero() {
			t.firstToken = ev.Time
		}
	case metrics.EventFirstAudio:
		if t.firstAudio.IsZero() {
			t.firstAudio = ev.Time
		}
	}
	if ev.Name != metrics.EventStreamEnd {
		o.mu.Unlock()
		return
	}
	delete(o.traces, streamID)
	report := LatencyReport{
		StreamID:     streamID,
		FirstTokenMs: durationMs(t.start, t.firstToken),
		FirstAudioMs: durationMs(t.start, t.firstAudio),
		TokenToAudio: durationMs(t.firstToken, t.firstAudio),
		DurationMs:   durationMs(t.start, ev.Time),
		Outcome:      ev.Tags[metrics.TagOutcome],
	}
	hook := o.onReport
	o.mu.Unlock()

	o.log.Info("stream latency",
		"stream_id", report.StreamID,
		"outcome", report.Outcome,
		"first_token_ms", report.FirstTokenMs,
		"first_audio_ms", report.FirstAudioMs,
		"token_to_audio_ms", report.TokenToAudio,
		"duration_ms", report.DurationMs,
	)
	if hook != nil {
		hook(report)
	}
}

// Pending reports how many streams are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*LatencyObserver)(nil)
