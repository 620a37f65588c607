package pipeline

import (
	"log/slog"
	"time"

	"github.com/harunnryd/voxstream/pkg/aggregators"
)

const (
	DefaultAudioDrainTimeout = 10 * time.Second
	DefaultMaxSuggestions    = 4
)

// Channel is the outbound side of a stream. *sse.Channel implements it.
type Channel interface {
	Send(event string, payload any) bool
	IsAlive() bool
	Close(reason string)
	Done() <-chan struct{}
	BytesSent() int64
}

type Config struct {
	Detector aggregators.DetectorConfig
	// AudioDrainTimeout bounds how long completion waits for audio of
	// sentences already submitted.
	AudioDrainTimeout time.Duration
	MaxSuggestions    int
	InlineMarkers     bool
	DefaultLanguage   string
	DefaultGender     string
}

func (c Config) withDefaults() Config {
	if c.AudioDrainTimeout <= 0 {
		c.AudioDrainTimeout = DefaultAudioDrainTimeout
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = DefaultMaxSuggestions
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	return c
}

// StreamOptions are the per-request knobs.
type StreamOptions struct {
	StreamID string
	ClientID string
	Audio    bool
	Language string
	Gender   string
}

func LogConfiguration(logger *slog.Logger, cfg Config) {
	logger.Info("orchestrator_config",
		"audio_drain_timeout", cfg.AudioDrainTimeout.String(),
		"max_suggestions", cfg.MaxSuggestions,
		"inline_markers", cfg.InlineMarkers,
		"default_language", cfg.DefaultLanguage,
		"extra_abbreviations", len(cfg.Detector.Abbreviations),
	)
}
