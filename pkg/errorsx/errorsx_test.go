package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonGeneratorStream)
	if Reason(err) != ReasonGeneratorStream {
		t.Fatalf("expected reason %s, got %s", ReasonGeneratorStream, Reason(err))
	}
	if !HasReason(err, ReasonGeneratorStream) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSpeechSend)
	second := Wrap(first, ReasonGeneratorStream)
	if Reason(second) != ReasonSpeechSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("stream: %w", Newf(ReasonCacheRead, "redis: %s", "timeout"))
	if Reason(err) != ReasonCacheRead {
		t.Fatalf("expected cache_read, got %s", Reason(err))
	}
	if !errors.As(err, new(ReasonedError)) {
		t.Fatalf("expected ReasonedError in chain")
	}
}

func TestFatalReasons(t *testing.T) {
	if !ReasonGeneratorStream.Fatal() {
		t.Fatalf("generator errors must be fatal")
	}
	for _, r := range []ReasonCode{ReasonSpeechProvider, ReasonCacheWrite, ReasonClientDisconnect} {
		if r.Fatal() {
			t.Fatalf("%s must not be fatal", r)
		}
	}
}

func TestReasonOfNil(t *testing.T) {
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown for nil")
	}
	if Wrap(nil, ReasonSpeechSend) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
