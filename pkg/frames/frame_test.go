package frames

import (
	"errors"
	"testing"
)

func TestAudioFrameMetaIsolation(t *testing.T) {
	meta := map[string]string{MetaSegment: "seg-1"}
	f := NewAudioFrame("s1", 1, []byte{1, 2}, 24000, 1, meta)
	meta[MetaSegment] = "changed"
	if f.Segment() != "seg-1" || f.Meta()[MetaStreamID] != "s1" {
		t.Fatalf("unexpected meta: %v", f.Meta())
	}
	data := f.Data()
	data[0] = 9
	if f.RawPayload()[0] != 1 {
		t.Fatalf("Data must return a copy")
	}
}

func TestPooledAudioRelease(t *testing.T) {
	f := NewAudioFrameFromPool("s1", 1, []byte{1, 2, 3}, 16000, 1, nil)
	if len(f.RawPayload()) != 3 {
		t.Fatalf("unexpected payload length %d", len(f.RawPayload()))
	}
	if !ReleaseAudioFrame(f) {
		t.Fatalf("expected pooled frame to be released")
	}
	if ReleaseAudioFrame(NewAudioFrame("s1", 1, nil, 0, 0, nil)) {
		t.Fatalf("non-pooled frame must not be released")
	}
	if ReleaseAudioFrame(NewControlFrame("s1", 1, ControlAudioReady, nil)) {
		t.Fatalf("control frame must not be released")
	}
}

func TestErrorFrame(t *testing.T) {
	f := NewErrorFrame("s1", "mock", errors.New("socket closed"))
	if f.Code() != ControlError || f.Meta()[MetaError] != "socket closed" || f.Meta()[MetaSource] != "mock" {
		t.Fatalf("unexpected error frame: %v %v", f.Code(), f.Meta())
	}
}

func TestPTSGenMonotonic(t *testing.T) {
	g := NewPTSGen()
	a, b := g.Next("s"), g.Next("s")
	if b <= a {
		t.Fatalf("pts not increasing: %d then %d", a, b)
	}
	if c := g.Next("other"); c != a {
		t.Fatalf("streams should count independently, got %d want %d", c, a)
	}
}
