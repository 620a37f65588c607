package sse

// Event names written on the wire.
const (
	EventConnected   = "connected"
	EventMetadata    = "metadata"
	EventText        = "text"
	EventAudio       = "audio"
	EventSuggestions = "suggestions"
	EventStatus      = "status"
	EventWarning     = "warning"
	EventError       = "error"
	EventComplete    = "complete"
	EventClose       = "close"
)

type ConnectedPayload struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

type TextPayload struct {
	Content string `json:"content"`
}

// AudioPayload carries one base64 chunk. Sequence counts chunks across the
// stream; Sentence ties the chunk to the sentence that produced it.
type AudioPayload struct {
	Chunk     string `json:"chunk"`
	Sequence  int    `json:"sequence"`
	Sentence  int    `json:"sentence"`
	Final     bool   `json:"final,omitempty"`
	FromCache bool   `json:"fromCache,omitempty"`
}

type SuggestionsPayload struct {
	Items []string `json:"items"`
	Count int      `json:"count"`
}

type StatusPayload struct {
	Message string `json:"message"`
}

type WarningPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorPayload struct {
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

// CompletePayload durations are milliseconds. Latencies are null when the
// stream never produced that output.
type CompletePayload struct {
	Success           bool   `json:"success"`
	Duration          int64  `json:"duration"`
	WordCount         int    `json:"wordCount"`
	SentenceCount     int    `json:"sentenceCount"`
	AudioChunks       int    `json:"audioChunks"`
	FirstTokenLatency *int64 `json:"firstTokenLatency"`
	FirstAudioLatency *int64 `json:"firstAudioLatency"`
}

type ClosePayload struct {
	Reason string `json:"reason"`
}
