package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/transports/sse"
	"github.com/harunnryd/voxstream/pkg/voxstream"
)

func newTestServer(t *testing.T) (*httptest.Server, *voxstream.Engine) {
	t.Helper()
	cfg, err := voxstream.LoadConfig("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Generator.Settings = map[string]any{
		"default_answer": "The order shipped today. It arrives on Friday.",
		"suggestions":    []any{"Track my order", "Change address"},
	}
	eng, err := voxstream.NewEngine(context.Background(), voxstream.EngineOptions{Config: cfg, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	srv := httptest.NewServer(New(eng, logging.Discard()).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close(context.Background())
	})
	return srv, eng
}

func events(frames []sse.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func countEvent(frames []sse.Frame, name string) int {
	n := 0
	for _, f := range frames {
		if f.Event == name {
			n++
		}
	}
	return n
}

func TestStreamEndpointGET(t *testing.T) {
	srv, eng := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/stream?q=where+is+my+order&audio=true&client_id=c-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	frames, err := sse.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(frames) == 0 || frames[0].Event != sse.EventConnected {
		t.Fatalf("expected connected first, got %v", events(frames))
	}
	if countEvent(frames, sse.EventText) == 0 || countEvent(frames, sse.EventAudio) == 0 {
		t.Fatalf("expected text and audio, got %v", events(frames))
	}
	if countEvent(frames, sse.EventSuggestions) != 1 || countEvent(frames, sse.EventComplete) != 1 {
		t.Fatalf("expected suggestions and complete once, got %v", events(frames))
	}
	var connected sse.ConnectedPayload
	if err := frames[0].Unmarshal(&connected); err != nil || connected.ClientID != "c-9" {
		t.Fatalf("unexpected connected payload %+v (%v)", connected, err)
	}
	if got := eng.Aggregator().Snapshot().Requests.Successful; got != 1 {
		t.Fatalf("expected one successful request, got %d", got)
	}
}

func TestStreamEndpointPOSTJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	body := strings.NewReader(`{"q":"hello","audio":false}`)
	resp, err := http.Post(srv.URL+"/v1/stream", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	frames, err := sse.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if countEvent(frames, sse.EventAudio) != 0 || countEvent(frames, sse.EventComplete) != 1 {
		t.Fatalf("expected a text-only stream, got %v", events(frames))
	}
}

func TestStreamEndpointPOSTForm(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.PostForm(srv.URL+"/v1/stream", url.Values{"q": {"hello"}, "audio": {"0"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	frames, _ := sse.ReadAll(resp.Body)
	if countEvent(frames, sse.EventComplete) != 1 {
		t.Fatalf("expected complete, got %v", events(frames))
	}
}

func TestStreamEndpointRejects(t *testing.T) {
	srv, eng := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/stream?q=x&audio=maybe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad audio flag, got %d", resp.StatusCode)
	}

	eng.Registry().SetDraining(true)
	resp, err = http.Get(srv.URL + "/v1/stream?q=x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", resp.StatusCode)
	}
	resp, _ = http.Get(srv.URL + "/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy while draining, got %d", resp.StatusCode)
	}
}

func TestIntrospectionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/stream?q=hi")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	resp.Body.Close()
	if snap.Requests.Total != 1 || snap.Requests.SuccessRate != 100 {
		t.Fatalf("unexpected snapshot %+v", snap.Requests)
	}

	resp, _ = http.Get(srv.URL + "/v1/activity?limit=1")
	var activity struct {
		Events []metrics.ActivityEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&activity)
	resp.Body.Close()
	if activity.Count != 1 || activity.Events[0].Kind != metrics.ActivitySuccess {
		t.Fatalf("unexpected activity %+v", activity)
	}

	resp, _ = http.Get(srv.URL + "/v1/activity?limit=-2")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/v1/metrics/summary")
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(text), "100") {
		t.Fatalf("summary should include the success rate, got %q", text)
	}

	resp, _ = http.Get(srv.URL + "/metrics")
	prom, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(prom), `voxstream_requests_total{outcome="success"} 1`) {
		t.Fatalf("prometheus output missing request counter:\n%s", prom)
	}

	resp, _ = http.Get(srv.URL + "/healthz")
	var health map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["generator"] != "script" {
		t.Fatalf("unexpected health %v", health)
	}
}
