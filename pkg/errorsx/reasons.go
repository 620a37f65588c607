package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonGeneratorOpen   ReasonCode = "generator_open"
	ReasonGeneratorStream ReasonCode = "generator_stream"

	ReasonSpeechConnect     ReasonCode = "speech_connect"
	ReasonSpeechSend        ReasonCode = "speech_send"
	ReasonSpeechProvider    ReasonCode = "speech_provider"
	ReasonSpeechTimeout     ReasonCode = "speech_timeout"
	ReasonSpeechRateLimit   ReasonCode = "speech_rate_limit"
	ReasonSpeechCircuitOpen ReasonCode = "speech_circuit_open"

	ReasonCacheRead  ReasonCode = "cache_read"
	ReasonCacheWrite ReasonCode = "cache_write"

	ReasonChannelWrite     ReasonCode = "channel_write"
	ReasonClientDisconnect ReasonCode = "client_disconnect"

	ReasonConfigInvalid ReasonCode = "config_invalid"
)

// Fatal reports whether a reason ends a stream with an error event.
// Everything else degrades the stream instead of failing it.
func (r ReasonCode) Fatal() bool {
	switch r {
	case ReasonGeneratorOpen, ReasonGeneratorStream:
		return true
	default:
		return false
	}
}
