package frames

// Metadata keys shared by providers and the speech session.
const (
	MetaStreamID  = "stream_id"
	MetaSource    = "source"
	MetaSegment   = "segment"
	MetaError     = "error"
	MetaEncoding  = "encoding"
	MetaRateLimit = "rate_limited"
)
