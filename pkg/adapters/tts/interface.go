package tts

import (
	"context"

	"github.com/harunnryd/voxstream/pkg/frames"
)

// StreamingTTS defines the contract for any TTS vendor implementation.
//
// Each SendText call opens one segment, numbered from 1 in call order. A
// provider tags every audio frame and the closing ControlAudioReady frame
// with that number under frames.MetaSegment. Frames within a segment stay
// in order, but segments may finish in any order. Failures surface as a
// ControlError frame and the Results channel is closed when the connection
// ends.
type StreamingTTS interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the TTS connection.
	Start(ctx context.Context) error
	// Close shuts down the TTS connection.
	Close() error
	// SendText sends one text segment to be synthesized.
	SendText(text string) error
	// Flush asks the vendor to finish any pending generation.
	Flush()
	// Results returns a channel of audio/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	StreamID   string
	VoiceID    string
	Language   string
	SampleRate int
	Channels   int
	Settings   map[string]any
}

// Factory builds a provider for one stream.
type Factory func(cfg Config) (StreamingTTS, error)
