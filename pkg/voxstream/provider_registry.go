package voxstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/cache"
	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/pipeline"
	"github.com/harunnryd/voxstream/pkg/providers/deepgram"
	"github.com/harunnryd/voxstream/pkg/providers/elevenlabs"
	"github.com/harunnryd/voxstream/pkg/providers/mock"
	"github.com/harunnryd/voxstream/pkg/providers/openai"
	"github.com/harunnryd/voxstream/pkg/providers/script"
)

type SpeechFactoryBuilder func(cfg Config) (tts.Factory, error)
type SourceFactory func(cfg Config) (pipeline.Source, error)
type CacheFactory func(ctx context.Context, cfg Config, logger *slog.Logger) (cache.Cache, error)

// ProviderRegistry maps configured provider names to constructors. Names are
// matched case-insensitively.
type ProviderRegistry struct {
	speech    map[string]SpeechFactoryBuilder
	generator map[string]SourceFactory
	cache     map[string]CacheFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		speech:    make(map[string]SpeechFactoryBuilder),
		generator: make(map[string]SourceFactory),
		cache:     make(map[string]CacheFactory),
	}
}

// DefaultProviders registers every built-in provider.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSpeech("elevenlabs", func(cfg Config) (tts.Factory, error) {
		if err := configutil.ValidateSettings(cfg.Speech.Settings, configutil.Schema{
			Path:     "speech.settings",
			Required: []string{"api_key"},
			Optional: []string{"voice_id", "model_id", "output_format", "sample_rate", "base_url"},
		}); err != nil {
			return nil, err
		}
		return elevenlabs.Factory(cfg.Speech.Settings), nil
	})
	r.RegisterSpeech("deepgram", func(cfg Config) (tts.Factory, error) {
		if err := configutil.ValidateSettings(cfg.Speech.Settings, configutil.Schema{
			Path:     "speech.settings",
			Required: []string{"api_key"},
			Optional: []string{"model", "encoding", "sample_rate"},
		}); err != nil {
			return nil, err
		}
		return deepgram.Factory(cfg.Speech.Settings), nil
	})
	r.RegisterSpeech("mock", func(cfg Config) (tts.Factory, error) {
		var base mock.TTSConfig
		if err := configutil.DecodeSettings(cfg.Speech.Settings, &base); err != nil {
			return nil, fmt.Errorf("speech.settings: %w", err)
		}
		return mock.Factory(base), nil
	})

	r.RegisterGenerator("script", func(cfg Config) (pipeline.Source, error) {
		return script.NewFromSettings(cfg.Generator.Settings)
	})
	r.RegisterGenerator("openai", func(cfg Config) (pipeline.Source, error) {
		return openai.NewFromSettings(cfg.Generator.Settings)
	})

	noop := func(context.Context, Config, *slog.Logger) (cache.Cache, error) { return cache.Noop{}, nil }
	r.RegisterCache("none", noop)
	r.RegisterCache("", noop)
	r.RegisterCache("memory", func(_ context.Context, cfg Config, _ *slog.Logger) (cache.Cache, error) {
		return cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.TTL), nil
	})
	r.RegisterCache("redis", func(ctx context.Context, cfg Config, logger *slog.Logger) (cache.Cache, error) {
		return cache.NewRedis(ctx, cache.RedisOptions{
			Addr:         cfg.Cache.Redis.Addr,
			Password:     cfg.Cache.Redis.Password,
			DB:           cfg.Cache.Redis.DB,
			Prefix:       cfg.Cache.Redis.Prefix,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		}, logger), nil
	})
	r.RegisterCache("badger", func(_ context.Context, cfg Config, logger *slog.Logger) (cache.Cache, error) {
		return cache.NewBadger(cache.BadgerOptions{
			Dir:      cfg.Cache.Badger.Dir,
			InMemory: cfg.Cache.Badger.InMemory,
			Logger:   logger,
		})
	})
	return r
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) RegisterSpeech(name string, fn SpeechFactoryBuilder) {
	r.speech[normalizeName(name)] = fn
}

func (r *ProviderRegistry) RegisterGenerator(name string, fn SourceFactory) {
	r.generator[normalizeName(name)] = fn
}

func (r *ProviderRegistry) RegisterCache(name string, fn CacheFactory) {
	r.cache[normalizeName(name)] = fn
}

func (r *ProviderRegistry) BuildSpeech(cfg Config) (tts.Factory, error) {
	fn := r.speech[normalizeName(cfg.Speech.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("speech provider not registered: %s", cfg.Speech.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildGenerator(cfg Config) (pipeline.Source, error) {
	fn := r.generator[normalizeName(cfg.Generator.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("generator provider not registered: %s", cfg.Generator.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildCache(ctx context.Context, cfg Config, logger *slog.Logger) (cache.Cache, error) {
	fn := r.cache[normalizeName(cfg.Cache.Backend)]
	if fn == nil {
		return nil, fmt.Errorf("cache backend not registered: %s", cfg.Cache.Backend)
	}
	return fn(ctx, cfg, logger)
}
