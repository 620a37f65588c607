package deepgram

import (
	"context"
	"testing"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/frames"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/websocket/interfaces"
)

func newTestTTS(t *testing.T) (*StreamingTTS, *callback) {
	t.Helper()
	s := New(Config{APIKey: "key", StreamID: "s1"})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s, &callback{parent: s}
}

func TestCallbackAttributesAudioToSegments(t *testing.T) {
	s, cb := newTestTTS(t)

	_ = cb.Binary([]byte("a1"))
	_ = cb.Binary([]byte("a2"))
	_ = cb.Flush(&msginterfaces.FlushedResponse{})
	_ = cb.Binary([]byte("b1"))
	_ = cb.Flush(&msginterfaces.FlushedResponse{})

	want := []string{"audio 1 a1", "audio 1 a2", "ready 1", "audio 2 b1", "ready 2"}
	for i, w := range want {
		f := <-s.Results()
		var got string
		switch v := f.(type) {
		case frames.AudioFrame:
			got = "audio " + v.Segment() + " " + string(v.Data())
			frames.ReleaseAudioFrame(v)
		case frames.ControlFrame:
			got = "ready " + v.Segment()
		}
		if got != w {
			t.Fatalf("frame %d = %q, want %q", i, got, w)
		}
	}
}

func TestCallbackErrorBecomesControlFrame(t *testing.T) {
	s, cb := newTestTTS(t)
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "QUOTA", ErrMsg: "quota exceeded"})
	f := (<-s.Results()).(frames.ControlFrame)
	if f.Code() != frames.ControlError || f.Meta()[frames.MetaError] == "" {
		t.Fatalf("unexpected frame %v %v", f.Code(), f.Meta())
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	s, cb := newTestTTS(t)
	_ = s.Close()
	_ = cb.Binary([]byte("late"))
	if _, ok := <-s.Results(); ok {
		t.Fatalf("expected closed results channel")
	}
}

func TestFactoryUsesVoiceAsModel(t *testing.T) {
	p, err := Factory(map[string]any{"api_key": "k", "model": "aura-asteria-en"})(tts.Config{StreamID: "s1", VoiceID: "aura-2-luna-en"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got := p.(*StreamingTTS).cfg.Model; got != "aura-2-luna-en" {
		t.Fatalf("model = %q", got)
	}
	if _, err := Factory(nil)(tts.Config{}); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if err := New(Config{}).Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail without api key")
	}
}
