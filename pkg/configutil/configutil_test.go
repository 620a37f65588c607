package configutil

import (
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/voxstream/pkg/errorsx"
)

type voiceSettings struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Languages  []string      `mapstructure:"languages"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out voiceSettings
	err := DecodeSettings(map[string]any{
		"API-KEY":    "k",
		"Model":      "aura",
		"sampleRate": "24000",
		"timeout":    "250ms",
		"languages":  "en,id",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.Model != "aura" || out.SampleRate != 24000 {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if out.Timeout != 250*time.Millisecond {
		t.Fatalf("timeout = %v", out.Timeout)
	}
	if len(out.Languages) != 2 || out.Languages[1] != "id" {
		t.Fatalf("languages = %v", out.Languages)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Path: "speech.settings", Required: []string{"api_key"}, Optional: []string{"model"}}
	if err := ValidateSettings(map[string]any{"apiKey": "x", "model": "m"}, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidateSettings(map[string]any{"api_key": " ", "voice": "v"}, schema)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err.Error() != "speech.settings: missing: api_key; unknown: voice" {
		t.Fatalf("unexpected message: %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected config_invalid reason, got %q", errorsx.Reason(err))
	}
	var serr *SettingsError
	if !errors.As(err, &serr) || len(serr.Missing) != 1 || len(serr.Unknown) != 1 {
		t.Fatalf("expected SettingsError, got %#v", err)
	}
}

func TestValidateSettingsOptionalMayBeBlank(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	if err := ValidateSettings(map[string]any{"API-KEY": "x", "model": ""}, schema); err != nil {
		t.Fatalf("blank optional key must pass: %v", err)
	}
	if err := ValidateSettings(map[string]any{}, schema); err == nil || err.Error() != "missing: api_key" {
		t.Fatalf("unexpected result for empty settings: %v", err)
	}
}

func TestFallbacks(t *testing.T) {
	if StringValue("  ", "d") != "d" || StringValue("x", "d") != "x" {
		t.Fatalf("StringValue fallback broken")
	}
	if DurationValue(0, time.Second) != time.Second {
		t.Fatalf("DurationValue fallback broken")
	}
	n := 4
	if IntValue(nil, 1) != 1 || IntValue(&n, 1) != 4 {
		t.Fatalf("IntValue fallback broken")
	}
	if RequirePositive(0, "speech.drain_timeout") == nil {
		t.Fatalf("expected error for zero duration")
	}
}
