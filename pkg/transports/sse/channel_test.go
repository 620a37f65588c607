package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncRecorder guards the recorder body so heartbeat writes and test reads
// do not race.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

type failingWriter struct {
	header http.Header
	fail   bool
}

func (f *failingWriter) Header() http.Header { return f.header }
func (f *failingWriter) WriteHeader(int)     {}
func (f *failingWriter) Flush()              {}
func (f *failingWriter) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func openChannel(t *testing.T, opts Options) (*Channel, *syncRecorder, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()
	ch := New(opts)
	if err := ch.Init(rec, req, "client-1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(cancel)
	return ch, rec, cancel
}

func TestInitWritesHeadersAndConnected(t *testing.T) {
	ch, rec, _ := openChannel(t, Options{})
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content-type = %q", got)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" || rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("missing stream headers: %v", rec.Header())
	}
	frames, err := ReadAll(strings.NewReader(rec.String()))
	if err != nil || len(frames) != 1 || frames[0].Event != EventConnected {
		t.Fatalf("frames = %+v err=%v", frames, err)
	}
	var p ConnectedPayload
	if err := frames[0].Unmarshal(&p); err != nil || p.ClientID != "client-1" || p.Timestamp == 0 {
		t.Fatalf("connected payload = %+v err=%v", p, err)
	}
	if ch.State() != StateOpen || !ch.IsAlive() {
		t.Fatalf("state = %s", ch.State())
	}
}

func TestSendAndCloseOrdering(t *testing.T) {
	ch, rec, _ := openChannel(t, Options{})
	if !ch.Send(EventText, TextPayload{Content: "Hello"}) {
		t.Fatalf("send failed")
	}
	ch.Close("complete")
	ch.Close("again")
	if ch.Send(EventText, TextPayload{Content: "late"}) {
		t.Fatalf("send after close must report false")
	}
	body := rec.String()
	if strings.Contains(body, "late") || strings.Count(body, "event: close") != 1 {
		t.Fatalf("unexpected body %q", body)
	}
	frames, _ := ReadAll(strings.NewReader(body))
	if len(frames) != 3 || frames[1].Event != EventText || frames[2].Event != EventClose {
		t.Fatalf("frames = %+v", frames)
	}
	var cp ClosePayload
	_ = frames[2].Unmarshal(&cp)
	if cp.Reason != "complete" || ch.Reason() != "complete" {
		t.Fatalf("close reason = %q / %q", cp.Reason, ch.Reason())
	}
	select {
	case <-ch.Done():
	default:
		t.Fatalf("done not closed")
	}
}

func TestPeerDisconnectClosesSilently(t *testing.T) {
	closed := make(chan string, 1)
	ch, rec, cancel := openChannel(t, Options{OnClosed: func(r string) { closed <- r }})
	cancel()
	select {
	case r := <-closed:
		if r != ReasonPeerGone {
			t.Fatalf("reason = %q", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("disconnect not detected")
	}
	if ch.Send(EventText, TextPayload{Content: "x"}) || ch.IsAlive() {
		t.Fatalf("channel must be dead after disconnect")
	}
	ch.Close("complete")
	if strings.Contains(rec.String(), "event: close") {
		t.Fatalf("no close event after peer is gone")
	}
}

func TestWriteFailureClosesChannel(t *testing.T) {
	w := &failingWriter{header: http.Header{}}
	ch := New(Options{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := ch.Init(w, req, "c"); err != nil {
		t.Fatalf("init: %v", err)
	}
	w.fail = true
	if ch.Send(EventText, TextPayload{Content: "x"}) {
		t.Fatalf("send on broken pipe must report false")
	}
	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatalf("write failure did not close channel")
	}
	if ch.Reason() != ReasonWriteError {
		t.Fatalf("reason = %q", ch.Reason())
	}
}

func TestHeartbeat(t *testing.T) {
	_, rec, _ := openChannel(t, Options{Heartbeat: 10 * time.Millisecond})
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(rec.String(), ": heartbeat\n\n") {
		if time.Now().After(deadline) {
			t.Fatalf("no heartbeat written: %q", rec.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	frames, _ := ReadAll(strings.NewReader(rec.String()))
	if len(frames) != 1 {
		t.Fatalf("heartbeats must not parse as events: %+v", frames)
	}
}

func TestEncodeMultiline(t *testing.T) {
	got := string(Encode("metadata", []byte("{\n  \"a\": 1\n}")))
	want := "event: metadata\ndata: {\ndata:   \"a\": 1\ndata: }\n\n"
	if got != want {
		t.Fatalf("encode = %q", got)
	}
	frames, _ := ReadAll(strings.NewReader(got))
	if len(frames) != 1 || frames[0].Data != "{\n  \"a\": 1\n}" {
		t.Fatalf("round trip = %+v", frames)
	}
}

func TestInitRequiresFlusher(t *testing.T) {
	type plain struct{ http.ResponseWriter }
	ch := New(Options{})
	err := ch.Init(plain{httptest.NewRecorder()}, httptest.NewRequest(http.MethodGet, "/", nil), "c")
	if !errors.Is(err, ErrNotFlushable) {
		t.Fatalf("expected ErrNotFlushable, got %v", err)
	}
	if ch.Send(EventText, TextPayload{}) {
		t.Fatalf("uninitialized channel must not send")
	}
}
