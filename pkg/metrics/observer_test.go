package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/harunnryd/voxstream/pkg/redact"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		async.RecordEvent(NewEvent(EventAudioChunk, "s", float64(i)))
	}
	async.Close()
	async.RecordEvent(NewEvent(EventAudioChunk, "s", 99))

	if got := len(mem.Named(EventAudioChunk)); got != 10 {
		t.Fatalf("expected 10 events, got %d", got)
	}
	async.Close()
}

func TestSamplingObserverOnlyThinsNamedEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.25, EventAudioChunk)
	for i := 0; i < 8; i++ {
		s.RecordEvent(NewEvent(EventAudioChunk, "s", 1))
	}
	s.RecordEvent(NewEvent(EventStreamEnd, "s", 1))

	if got := len(mem.Named(EventAudioChunk)); got != 2 {
		t.Fatalf("expected 2 sampled chunks, got %d", got)
	}
	if got := len(mem.Named(EventStreamEnd)); got != 1 {
		t.Fatalf("expected stream end to pass through, got %d", got)
	}
}

func TestSamplingObserverZeroRate(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	s.RecordEvent(NewEvent(EventStreamStart, "s", 1))
	if len(mem.Events) != 0 {
		t.Fatalf("expected nothing forwarded at rate 0")
	}
}

func TestJSONLObserverRedactsFields(t *testing.T) {
	redact.SetEnabled(true)
	t.Cleanup(func() { redact.SetEnabled(false) })

	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	ev := NewEvent(EventSentence, "s1", 1)
	ev.Fields = map[string]any{"text": "mail me at jane@example.com"}
	o.RecordEvent(ev)
	if err := o.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	line := buf.String()
	if !strings.Contains(line, `"stream_id":"s1"`) || !strings.Contains(line, EventSentence) {
		t.Fatalf("unexpected line: %s", line)
	}
	if strings.Contains(line, "jane@example.com") {
		t.Fatalf("email not redacted: %s", line)
	}
}
