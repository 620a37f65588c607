package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/cache"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

// CacheClass labels audio cache lookups in metrics.
const CacheClass = "audio"

var (
	ErrSessionDead   = errors.New("speech: session is dead")
	ErrSessionClosed = errors.New("speech: session closed")
	ErrNothingToSay  = errors.New("speech: nothing to synthesize")
)

// CacheRecorder receives cache outcomes. The metrics aggregator implements it.
type CacheRecorder interface {
	RecordCacheHit(class string)
	RecordCacheMiss(class string)
}

type Config struct {
	Voices       VoiceResolver
	Acronyms     []string
	SampleRate   int
	CacheTTL     time.Duration
	CacheTimeout time.Duration
	// SegmentTimeout bounds how long a submitted sentence may wait for
	// provider output before the session is declared dead.
	SegmentTimeout time.Duration
	CloseTimeout   time.Duration
	Breaker        *resilience.CircuitBreaker
	Retry          resilience.RetryPolicy
}

// Synthesizer is the process-wide entry point: it owns the provider
// factory, cache and breaker, and opens one Session per stream.
type Synthesizer struct {
	cfg       Config
	factory   tts.Factory
	cache     cache.Cache
	recorder  CacheRecorder
	sanitizer *Sanitizer
	logger    *slog.Logger
}

func NewSynthesizer(cfg Config, factory tts.Factory, c cache.Cache, recorder CacheRecorder, logger *slog.Logger) *Synthesizer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 250 * time.Millisecond
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 15 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 3 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
		cfg.Breaker.TripOn = func(error) bool { return true }
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Synthesizer{
		cfg:       cfg,
		factory:   factory,
		cache:     c,
		recorder:  recorder,
		sanitizer: NewSanitizer(cfg.Acronyms),
		logger:    logging.NewComponentLogger(logger, "speech"),
	}
}

type OpenOptions struct {
	StreamID string
	Language string
	Gender   string
	// OnError fires at most once, when the session dies.
	OnError func(error)
}

// Open resolves the voice and connects a provider channel for one stream.
func (s *Synthesizer) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	if s.factory == nil {
		return nil, errorsx.Newf(errorsx.ReasonSpeechConnect, "speech: no provider configured")
	}
	if !s.cfg.Breaker.Allow() {
		return nil, errorsx.Newf(errorsx.ReasonSpeechCircuitOpen, "speech: provider circuit open")
	}
	voice := s.cfg.Voices.Resolve(opts.Language, opts.Gender)

	sessCtx, cancel := context.WithCancel(ctx)
	var provider tts.StreamingTTS
	err := s.cfg.Retry.Do(ctx, func(attempt int) error {
		p, err := s.factory(tts.Config{
			StreamID:   opts.StreamID,
			VoiceID:    voice,
			Language:   opts.Language,
			SampleRate: s.cfg.SampleRate,
		})
		if err != nil {
			return err
		}
		if err := p.Start(sessCtx); err != nil {
			s.logger.Warn("speech provider connect failed",
				slog.String("stream_id", opts.StreamID),
				slog.String("provider", p.Name()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			_ = p.Close()
			return err
		}
		provider = p
		return nil
	})
	if err != nil {
		cancel()
		if s.cfg.Breaker.OnError(err) {
			s.logger.Warn("speech provider circuit opened", slog.String("error", err.Error()))
		}
		reason := errorsx.ReasonSpeechConnect
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonSpeechRateLimit
		}
		return nil, errorsx.Wrap(fmt.Errorf("speech: open provider: %w", err), reason)
	}
	s.cfg.Breaker.OnSuccess()

	sess := newSession(s, provider, sessCtx, cancel, opts, voice)
	s.logger.Debug("speech session opened",
		slog.String("stream_id", opts.StreamID),
		slog.String("provider", provider.Name()),
		slog.String("language", opts.Language),
		slog.String("voice", voice))
	return sess, nil
}

// Voice exposes the resolver for callers that only need the voice id.
func (s *Synthesizer) Voice(language, gender string) string {
	return s.cfg.Voices.Resolve(language, gender)
}

func (s *Synthesizer) recordHit() {
	if s.recorder != nil {
		s.recorder.RecordCacheHit(CacheClass)
	}
}

func (s *Synthesizer) recordMiss() {
	if s.recorder != nil {
		s.recorder.RecordCacheMiss(CacheClass)
	}
}
