package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names emitted along a stream's life.
const (
	EventStreamStart   = "stream_start"
	EventFirstToken    = "stream_first_token"
	EventSentence      = "stream_sentence"
	EventFirstAudio    = "stream_first_audio"
	EventAudioChunk    = "stream_audio_chunk"
	EventSpeechError   = "speech_error"
	EventSpeechOpen    = "speech_open"
	EventBreakerDenied = "speech_breaker_denied"
	EventStreamEnd     = "stream_end"
)

// Tag keys.
const (
	TagStreamID = "stream_id"
	TagClientID = "client_id"
	TagOutcome  = "outcome"
	TagReason   = "reason"
	TagProvider = "provider"
)

// NewEvent stamps an event with the current time.
func NewEvent(name, streamID string, value float64) MetricsEvent {
	return MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  map[string]string{TagStreamID: streamID},
	}
}
