package metrics

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/harunnryd/voxstream/pkg/redact"
)

// JSONLObserver appends one JSON line per event. String fields pass
// through redaction first.
type JSONLObserver struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	return &JSONLObserver{buf: buf, logger: slog.New(slog.NewJSONHandler(buf, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range redact.Fields(ev.Fields) {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.mu.Lock()
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "metrics", attrs...)
	o.mu.Unlock()
}

func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Flush()
}

var _ Flusher = (*JSONLObserver)(nil)
