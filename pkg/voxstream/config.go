package voxstream

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: speech.voice_override is
// read from VOXSTREAM_SPEECH_VOICE_OVERRIDE.
const EnvPrefix = "VOXSTREAM"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	SSE           SSEConfig           `mapstructure:"sse"`
	Sentence      SentenceConfig      `mapstructure:"sentence"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Generator     VendorConfig        `mapstructure:"generator"`
	Suggestions   SuggestionsConfig   `mapstructure:"suggestions"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	StreamPath      string        `mapstructure:"stream_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SSEConfig struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type SentenceConfig struct {
	Abbreviations []string `mapstructure:"abbreviations"`
	// FullStops lists extra script full-stop marks, e.g. "。".
	FullStops []string `mapstructure:"full_stops"`
}

type SpeechConfig struct {
	Enabled           bool                         `mapstructure:"enabled"`
	Provider          string                       `mapstructure:"provider"`
	Settings          map[string]any               `mapstructure:"settings"`
	DefaultLanguage   string                       `mapstructure:"default_language"`
	DefaultGender     string                       `mapstructure:"default_gender"`
	VoiceOverride     string                       `mapstructure:"voice_override"`
	DefaultVoice      string                       `mapstructure:"default_voice"`
	Voices            map[string]map[string]string `mapstructure:"voices"`
	Acronyms          []string                     `mapstructure:"acronyms"`
	SampleRate        int                          `mapstructure:"sample_rate"`
	SegmentTimeout    time.Duration                `mapstructure:"segment_timeout"`
	CloseTimeout      time.Duration                `mapstructure:"close_timeout"`
	AudioDrainTimeout time.Duration                `mapstructure:"audio_drain_timeout"`
	Breaker           BreakerConfig                `mapstructure:"breaker"`
	Retry             RetryConfig                  `mapstructure:"retry"`
}

type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	// RateLimitOnly restricts tripping to provider rate limits.
	RateLimitOnly bool `mapstructure:"rate_limit_only"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

type CacheConfig struct {
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxEntries   int           `mapstructure:"max_entries"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Redis        RedisConfig   `mapstructure:"redis"`
	Badger       BadgerConfig  `mapstructure:"badger"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BadgerConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

type MetricsConfig struct {
	Namespace     string        `mapstructure:"namespace"`
	SampleCap     int           `mapstructure:"sample_cap"`
	RecentEvents  int           `mapstructure:"recent_events"`
	UserStaleness time.Duration `mapstructure:"user_staleness"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// EventSampleRate thins high-volume observer events (sentence,
	// audio_chunk). 1 keeps them all.
	EventSampleRate float64 `mapstructure:"event_sample_rate"`
	ObserverBuffer  int     `mapstructure:"observer_buffer"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string     `mapstructure:"artifacts_dir"`
	RetentionDays int        `mapstructure:"retention_days"`
	NATS          NATSConfig `mapstructure:"nats"`
}

type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Subject string        `mapstructure:"subject"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
}

type SuggestionsConfig struct {
	MaxItems      int  `mapstructure:"max_items"`
	InlineMarkers bool `mapstructure:"inline_markers"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.stream_path", "/v1/stream")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("sse.heartbeat", "15s")
	v.SetDefault("sentence.abbreviations", []string{})
	v.SetDefault("sentence.full_stops", []string{})
	v.SetDefault("speech.enabled", true)
	v.SetDefault("speech.provider", "mock")
	v.SetDefault("speech.default_language", "en")
	v.SetDefault("speech.default_gender", "female")
	v.SetDefault("speech.voice_override", "")
	v.SetDefault("speech.default_voice", "")
	v.SetDefault("speech.sample_rate", 0)
	v.SetDefault("speech.segment_timeout", "15s")
	v.SetDefault("speech.close_timeout", "3s")
	v.SetDefault("speech.audio_drain_timeout", "10s")
	v.SetDefault("speech.breaker.threshold", 3)
	v.SetDefault("speech.breaker.cooldown", "30s")
	v.SetDefault("speech.breaker.rate_limit_only", false)
	v.SetDefault("speech.retry.max_retries", 1)
	v.SetDefault("speech.retry.backoff", "200ms")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.read_timeout", "250ms")
	v.SetDefault("cache.write_timeout", "250ms")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "voxstream:")
	v.SetDefault("cache.badger.dir", "")
	v.SetDefault("cache.badger.in_memory", false)
	v.SetDefault("metrics.namespace", "voxstream")
	v.SetDefault("metrics.sample_cap", 1000)
	v.SetDefault("metrics.recent_events", 100)
	v.SetDefault("metrics.user_staleness", "1h")
	v.SetDefault("metrics.sweep_interval", "5m")
	v.SetDefault("metrics.event_sample_rate", 1.0)
	v.SetDefault("metrics.observer_buffer", 2048)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.nats.url", "")
	v.SetDefault("observability.nats.subject", "voxstream.activity")
	v.SetDefault("observability.nats.timeout", "2s")
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "voxstream")
	v.SetDefault("generator.provider", "script")
	v.SetDefault("suggestions.max_items", 4)
	v.SetDefault("suggestions.inline_markers", true)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads defaults, then the optional YAML file at path, then
// VOXSTREAM_* environment overrides. String values may reference other
// environment variables as $NAME or ${NAME}.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Generator.Provider) == "" {
		return fmt.Errorf("generator.provider is required")
	}
	if c.Speech.Enabled && strings.TrimSpace(c.Speech.Provider) == "" {
		return fmt.Errorf("speech.provider is required when speech is enabled")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "none", "memory", "redis":
	case "badger":
		if !c.Cache.Badger.InMemory && strings.TrimSpace(c.Cache.Badger.Dir) == "" {
			return fmt.Errorf("cache.badger.dir is required unless cache.badger.in_memory is set")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of none, memory, redis, badger", c.Cache.Backend)
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter %q is not one of none, stdout, otlp", c.Telemetry.Exporter)
	}
	if c.Metrics.EventSampleRate < 0 || c.Metrics.EventSampleRate > 1 {
		return fmt.Errorf("metrics.event_sample_rate must be within [0, 1]")
	}
	if c.Metrics.SampleCap < 0 || c.Metrics.RecentEvents < 0 {
		return fmt.Errorf("metrics sample_cap and recent_events must not be negative")
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		return fmt.Errorf("server.stream_path must start with /")
	}
	for _, mark := range c.Sentence.FullStops {
		if len([]rune(mark)) != 1 {
			return fmt.Errorf("sentence.full_stops entry %q must be a single character", mark)
		}
	}
	return nil
}

// FullStopRunes returns the configured extra full stops as runes.
func (c SentenceConfig) FullStopRunes() []rune {
	out := make([]rune, 0, len(c.FullStops))
	for _, m := range c.FullStops {
		if r := []rune(m); len(r) == 1 {
			out = append(out, r[0])
		}
	}
	return out
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Speech.Settings = expandSettings(cfg.Speech.Settings)
	cfg.Generator.Settings = expandSettings(cfg.Generator.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		switch {
		case v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String:
			for _, key := range v.MapKeys() {
				expanded := os.ExpandEnv(v.MapIndex(key).String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		case v.Type().Elem().Kind() == reflect.Map:
			for _, key := range v.MapKeys() {
				expandValue(v.MapIndex(key))
			}
		}
	}
}
