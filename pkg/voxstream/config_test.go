package voxstream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxstream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SSE.Heartbeat != 15*time.Second {
		t.Fatalf("unexpected heartbeat %v", cfg.SSE.Heartbeat)
	}
	if cfg.Metrics.SampleCap != 1000 || cfg.Metrics.RecentEvents != 100 {
		t.Fatalf("unexpected metrics defaults %+v", cfg.Metrics)
	}
	if cfg.Metrics.UserStaleness != time.Hour {
		t.Fatalf("unexpected staleness %v", cfg.Metrics.UserStaleness)
	}
	if cfg.Speech.AudioDrainTimeout != 10*time.Second {
		t.Fatalf("unexpected drain timeout %v", cfg.Speech.AudioDrainTimeout)
	}
	if cfg.Generator.Provider != "script" || cfg.Speech.Provider != "mock" {
		t.Fatalf("unexpected providers %q %q", cfg.Generator.Provider, cfg.Speech.Provider)
	}
	if cfg.Suggestions.MaxItems != 4 || !cfg.Suggestions.InlineMarkers {
		t.Fatalf("unexpected suggestions defaults %+v", cfg.Suggestions)
	}
}

func TestLoadConfigFileAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_VOX_KEY", "sk-from-env")
	path := writeConfig(t, `
speech:
  provider: elevenlabs
  settings:
    api_key: ${TEST_VOX_KEY}
    voice_id: abc
  voices:
    en:
      female: rachel
      male: adam
sentence:
  abbreviations: ["Approx"]
  full_stops: ["。"]
cache:
  backend: badger
  badger:
    in_memory: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Speech.Settings["api_key"] != "sk-from-env" {
		t.Fatalf("settings not expanded: %v", cfg.Speech.Settings)
	}
	if cfg.Speech.Voices["en"]["male"] != "adam" {
		t.Fatalf("unexpected voices %v", cfg.Speech.Voices)
	}
	if runes := cfg.Sentence.FullStopRunes(); len(runes) != 1 || runes[0] != '。' {
		t.Fatalf("unexpected full stops %v", runes)
	}
	if cfg.Cache.Backend != "badger" || !cfg.Cache.Badger.InMemory {
		t.Fatalf("unexpected cache %+v", cfg.Cache)
	}
}

func TestVoiceOverrideFromEnvironment(t *testing.T) {
	t.Setenv("VOXSTREAM_SPEECH_VOICE_OVERRIDE", "forced-voice")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Speech.VoiceOverride != "forced-voice" {
		t.Fatalf("expected env override, got %q", cfg.Speech.VoiceOverride)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"cache backend", "cache:\n  backend: memcached\n", "cache.backend"},
		{"badger dir", "cache:\n  backend: badger\n", "cache.badger.dir"},
		{"exporter", "telemetry:\n  exporter: zipkin\n", "telemetry.exporter"},
		{"sample rate", "metrics:\n  event_sample_rate: 2\n", "event_sample_rate"},
		{"full stop", "sentence:\n  full_stops: [\"..\"]\n", "full_stops"},
		{"stream path", "server:\n  stream_path: stream\n", "stream_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
