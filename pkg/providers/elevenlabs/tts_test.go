package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/frames"
)

// fakeServer echoes each context's text back as one audio chunk and then
// marks the context final.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/voice-1/multi-stream-input") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		texts := map[string]string{}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			id, _ := msg["context_id"].(string)
			if text, ok := msg["text"].(string); ok && id != "" {
				texts[id] += text
			}
			if msg["close_context"] == true {
				audio := base64.StdEncoding.EncodeToString([]byte(strings.TrimSpace(texts[id])))
				_ = conn.WriteJSON(map[string]any{"audio": audio, "contextId": id})
				_ = conn.WriteJSON(map[string]any{"contextId": id, "isFinal": true})
			}
		}
	}))
}

func TestElevenLabsSegments(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	p := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), StreamID: "s1"})
	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	for _, text := range []string{"Hello there.", "Second one."} {
		if err := p.SendText(text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var audio []string
	ready := 0
	timeout := time.After(3 * time.Second)
	for ready < 2 {
		select {
		case f, ok := <-p.Results():
			if !ok {
				t.Fatalf("results closed early")
			}
			switch v := f.(type) {
			case frames.AudioFrame:
				audio = append(audio, v.Segment()+":"+string(v.Data()))
				frames.ReleaseAudioFrame(v)
			case frames.ControlFrame:
				if v.Code() != frames.ControlAudioReady {
					t.Fatalf("unexpected control %s: %v", v.Code(), v.Meta())
				}
				ready++
			}
		case <-timeout:
			t.Fatalf("timed out, got audio %v", audio)
		}
	}
	if len(audio) != 2 || audio[0] != "1:Hello there." || audio[1] != "2:Second one." {
		t.Fatalf("unexpected audio %v", audio)
	}
}

func TestElevenLabsRequiresConfig(t *testing.T) {
	if err := New(Config{}).Start(t.Context()); err == nil {
		t.Fatalf("expected config error")
	}
	if _, err := Factory(map[string]any{})(ttsConfigFor("s1")); err == nil {
		t.Fatalf("expected missing api key error")
	}
}

func ttsConfigFor(streamID string) tts.Config {
	return tts.Config{StreamID: streamID, VoiceID: "voice-1"}
}

// reversedServer waits for two closed contexts and answers the later one
// first.
func reversedServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		texts := map[string]string{}
		var closed []string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			id, _ := msg["context_id"].(string)
			if text, ok := msg["text"].(string); ok && id != "" {
				texts[id] += text
			}
			if msg["close_context"] != true {
				continue
			}
			closed = append(closed, id)
			if len(closed) < 2 {
				continue
			}
			for i := len(closed) - 1; i >= 0; i-- {
				cid := closed[i]
				audio := base64.StdEncoding.EncodeToString([]byte(strings.TrimSpace(texts[cid])))
				_ = conn.WriteJSON(map[string]any{"audio": audio, "contextId": cid})
				_ = conn.WriteJSON(map[string]any{"contextId": cid, "isFinal": true})
			}
			closed = nil
		}
	}))
}

func TestElevenLabsTagsOutOfOrderContexts(t *testing.T) {
	srv := reversedServer(t)
	defer srv.Close()

	p := New(Config{APIKey: "key", VoiceID: "voice-1", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), StreamID: "s1"})
	if err := p.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	for _, text := range []string{"Hello there.", "Second one."} {
		if err := p.SendText(text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var audio, ready []string
	timeout := time.After(3 * time.Second)
	for len(ready) < 2 {
		select {
		case f, ok := <-p.Results():
			if !ok {
				t.Fatalf("results closed early")
			}
			switch v := f.(type) {
			case frames.AudioFrame:
				audio = append(audio, v.Segment()+":"+string(v.Data()))
				frames.ReleaseAudioFrame(v)
			case frames.ControlFrame:
				ready = append(ready, v.Meta()[frames.MetaSegment])
			}
		case <-timeout:
			t.Fatalf("timed out, got audio %v", audio)
		}
	}
	if len(audio) != 2 || audio[0] != "2:Second one." || audio[1] != "1:Hello there." {
		t.Fatalf("segments must follow their context: %v", audio)
	}
	if ready[0] != "2" || ready[1] != "1" {
		t.Fatalf("ready order = %v", ready)
	}
}
