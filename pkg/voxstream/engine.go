// Package voxstream wires configuration, providers and the stream
// orchestrator into one process-wide Engine.
package voxstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/voxstream/pkg/aggregators"
	"github.com/harunnryd/voxstream/pkg/cache"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/observers"
	"github.com/harunnryd/voxstream/pkg/pipeline"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/resilience"
	"github.com/harunnryd/voxstream/pkg/speech"
	"github.com/harunnryd/voxstream/pkg/transports/sse"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Observers are appended to the configured sinks.
	Observers []metrics.Observer
}

type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry
	cache     cache.Cache
	source    pipeline.Source
	synth     *speech.Synthesizer
	agg       *metrics.Aggregator
	registry  *pipeline.StreamRegistry
	orch      *pipeline.Orchestrator
	latency   *observers.LatencyObserver
	sinks     *observers.MultiObserver
	asyncObs  *metrics.AsyncObserver
	nats      *observers.NATSConn
}

func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	logger.Info("voxstream_init",
		"environment", cfg.Environment,
		"generator", cfg.Generator.Provider,
		"speech_enabled", cfg.Speech.Enabled,
		"speech_provider", cfg.Speech.Provider,
		"cache_backend", cfg.Cache.Backend,
	)

	e := &Engine{cfg: cfg, logger: logger, providers: providers}

	source, err := providers.BuildGenerator(cfg)
	if err != nil {
		return nil, err
	}
	e.source = source

	e.buildObservers(opts.Observers)
	e.agg = metrics.NewAggregator(metrics.AggregatorOptions{
		SampleCap:     cfg.Metrics.SampleCap,
		RecentEvents:  cfg.Metrics.RecentEvents,
		UserStaleness: cfg.Metrics.UserStaleness,
		SweepInterval: cfg.Metrics.SweepInterval,
		Observer:      e.asyncObs,
		Logger:        logger,
	})

	if cfg.Speech.Enabled {
		if err := e.buildSpeech(ctx); err != nil {
			e.Close(ctx)
			return nil, err
		}
	}

	pcfg := pipeline.Config{
		Detector: aggregators.DetectorConfig{
			Abbreviations: cfg.Sentence.Abbreviations,
			ExtraMarks:    cfg.Sentence.FullStopRunes(),
		},
		AudioDrainTimeout: cfg.Speech.AudioDrainTimeout,
		MaxSuggestions:    cfg.Suggestions.MaxItems,
		InlineMarkers:     cfg.Suggestions.InlineMarkers,
		DefaultLanguage:   cfg.Speech.DefaultLanguage,
		DefaultGender:     cfg.Speech.DefaultGender,
	}
	e.registry = pipeline.NewStreamRegistry()
	e.orch = pipeline.NewBuilder(pcfg).
		WithSynthesizer(e.synth).
		WithAggregator(e.agg).
		WithRegistry(e.registry).
		WithObserver(e.asyncObs).
		WithLogger(logger).
		Build()
	pipeline.LogConfiguration(logging.NewComponentLogger(logger, "orchestrator"), pcfg)
	return e, nil
}

// buildObservers assembles the observer chain: configured sinks behind a
// multi-observer, thinned by the sampler, delivered off the hot path.
func (e *Engine) buildObservers(extra []metrics.Observer) {
	cfg := e.cfg
	log := logging.NewComponentLogger(e.logger, "observers")
	e.latency = observers.NewLatencyObserver(log)
	list := []metrics.Observer{observers.NewLoggerObserver(log), e.latency}

	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		list = append(list, observers.NewTimelineObserver(dir))
	}
	if url := strings.TrimSpace(cfg.Observability.NATS.URL); url != "" {
		conn, err := observers.ConnectNATS(url, "voxstream", cfg.Observability.NATS.Timeout, log)
		if err != nil {
			log.Warn("nats activity feed disabled", "error", err)
		} else {
			e.nats = conn
			list = append(list, observers.NewNATSObserver(conn, cfg.Observability.NATS.Subject, log))
		}
	}
	list = append(list, extra...)
	e.sinks = observers.NewMultiObserver(list...)

	var chain metrics.Observer = e.sinks
	if rate := cfg.Metrics.EventSampleRate; rate < 1 {
		chain = metrics.NewSamplingObserver(chain, rate, metrics.EventSentence, metrics.EventAudioChunk)
	}
	e.asyncObs = metrics.NewAsyncObserver(chain, cfg.Metrics.ObserverBuffer)
}

func (e *Engine) buildSpeech(ctx context.Context) error {
	cfg := e.cfg
	factory, err := e.providers.BuildSpeech(cfg)
	if err != nil {
		return err
	}
	c, err := e.providers.BuildCache(ctx, cfg, logging.NewComponentLogger(e.logger, "cache"))
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	e.cache = c

	threshold := cfg.Speech.Breaker.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	breaker := resilience.NewCircuitBreaker(threshold, cfg.Speech.Breaker.Cooldown)
	if !cfg.Speech.Breaker.RateLimitOnly {
		breaker.TripOn = func(error) bool { return true }
	}

	e.synth = speech.NewSynthesizer(speech.Config{
		Voices: speech.VoiceResolver{
			Override: cfg.Speech.VoiceOverride,
			Table:    cfg.Speech.Voices,
			Default:  cfg.Speech.DefaultVoice,
		},
		Acronyms:       cfg.Speech.Acronyms,
		SampleRate:     cfg.Speech.SampleRate,
		CacheTTL:       cfg.Cache.TTL,
		CacheTimeout:   cfg.Cache.ReadTimeout,
		SegmentTimeout: cfg.Speech.SegmentTimeout,
		CloseTimeout:   cfg.Speech.CloseTimeout,
		Breaker:        breaker,
		Retry:          resilience.NewRetryPolicy(cfg.Speech.Retry.MaxRetries, cfg.Speech.Retry.Backoff),
	}, factory, c, e.agg, e.logger)
	return nil
}

// Start runs background maintenance until ctx ends.
func (e *Engine) Start(ctx context.Context) {
	if dir := strings.TrimSpace(e.cfg.Observability.ArtifactsDir); dir != "" && e.cfg.Observability.RetentionDays > 0 {
		n, err := observers.PurgeTimelines(dir, e.cfg.Observability.RetentionDays)
		if err != nil {
			e.logger.Warn("timeline purge failed", "error", err)
		} else if n > 0 {
			e.logger.Info("timelines purged", "count", n)
		}
	}
	go e.agg.Run(ctx)
}

// Stream opens a generator for prompt and drives it through the
// orchestrator onto ch. A generator that cannot be opened ends the stream
// with an error event, the same as one that fails mid-stream.
func (e *Engine) Stream(ctx context.Context, prompt pipeline.Prompt, ch pipeline.Channel, opts pipeline.StreamOptions) error {
	gen, err := e.source.Open(ctx, prompt)
	if err != nil {
		err = errorsx.Wrap(fmt.Errorf("%s: open: %w", e.source.Name(), err), errorsx.ReasonGeneratorOpen)
		e.logger.Error("generator open failed", "stream_id", opts.StreamID, "error", err)
		ch.Send(sse.EventError, sse.ErrorPayload{Message: redact.Text(err.Error()), CanRetry: true})
		ch.Close(pipeline.CloseError)
		e.agg.RecordStreamError(opts.StreamID, string(errorsx.ReasonGeneratorOpen), err)
		return err
	}
	return e.orch.Stream(ctx, gen, ch, opts)
}

// Close flushes observers and releases the cache and activity feed.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.sinks != nil {
		if err := e.sinks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.nats != nil {
		if err := e.nats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.logger.WarnContext(ctx, "engine close", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// Health reports degraded dependencies. Speech and cache problems never
// block streaming, so they are reported but not fatal.
func (e *Engine) Health() map[string]string {
	out := map[string]string{"generator": e.source.Name()}
	if e.registry.Draining() {
		out["status"] = "draining"
	} else {
		out["status"] = "ok"
	}
	switch {
	case e.synth == nil:
		out["speech"] = "disabled"
	default:
		out["speech"] = e.cfg.Speech.Provider
	}
	if e.cache != nil {
		state := "up"
		if !e.cache.Available() {
			state = "down"
		}
		out["cache"] = e.cache.Name() + ":" + state
	}
	if e.nats != nil {
		state := "up"
		if !e.nats.Healthy() {
			state = "down"
		}
		out["nats"] = state
	}
	return out
}

func (e *Engine) Config() Config                       { return e.cfg }
func (e *Engine) Orchestrator() *pipeline.Orchestrator { return e.orch }
func (e *Engine) Aggregator() *metrics.Aggregator      { return e.agg }
func (e *Engine) Registry() *pipeline.StreamRegistry   { return e.registry }
func (e *Engine) Source() pipeline.Source              { return e.source }
func (e *Engine) Latency() *observers.LatencyObserver  { return e.latency }
func (e *Engine) ProviderRegistry() *ProviderRegistry  { return e.providers }
