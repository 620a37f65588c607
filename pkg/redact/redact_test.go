package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestSecretsAlwaysRedacted(t *testing.T) {
	SetEnabled(false)
	got := Text("using key sk-abcdefghijklmnop1234 for the call")
	if strings.Contains(got, "abcdefghijklmnop") {
		t.Fatalf("secret leaked: %q", got)
	}
}

func TestPreviewTruncates(t *testing.T) {
	SetEnabled(false)
	if got := Preview("héllo world", 5); got != "héllo…" {
		t.Fatalf("unexpected preview %q", got)
	}
	if got := Preview("short", 10); got != "short" {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestFieldsCopies(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })
	in := map[string]any{"text": "mail me at a@b.com", "n": 3}
	out := Fields(in)
	if out["text"] == in["text"] {
		t.Fatalf("expected text to be redacted")
	}
	if out["n"] != 3 {
		t.Fatalf("non-string field changed: %v", out["n"])
	}
	if in["text"] != "mail me at a@b.com" {
		t.Fatalf("input map mutated")
	}
}
