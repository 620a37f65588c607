package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voxstream/pkg/logging"
)

// DefaultHeartbeat keeps proxies with 30-60s idle timeouts from cutting
// a quiet stream.
const DefaultHeartbeat = 15 * time.Second

type State int32

const (
	StateUninitialized State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Close reasons used by the channel itself.
const (
	ReasonPeerGone   = "peer_disconnected"
	ReasonWriteError = "write_error"
)

var ErrNotFlushable = errors.New("sse: response writer does not support flushing")

type Options struct {
	Heartbeat time.Duration
	Logger    *slog.Logger
	// OnClosed runs once when the channel reaches StateClosed.
	OnClosed func(reason string)
}

// Channel is one outbound event stream. All writes are serialized; once
// closed, every write is a no-op.
type Channel struct {
	opts     Options
	logger   *slog.Logger
	w        http.ResponseWriter
	flusher  http.Flusher
	mu       sync.Mutex
	state    atomic.Int32
	clientID string
	reason   string
	done     chan struct{}
	once     sync.Once

	events atomic.Int64
	bytes  atomic.Int64
}

func New(opts Options) *Channel {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Channel{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "sse"),
		done:   make(chan struct{}),
	}
}

// Init writes the stream headers, emits the connected event and starts the
// heartbeat. The channel tears itself down when r's context ends.
func (c *Channel) Init(w http.ResponseWriter, r *http.Request, clientID string) error {
	f, ok := w.(http.Flusher)
	if !ok {
		return ErrNotFlushable
	}
	c.mu.Lock()
	if State(c.state.Load()) != StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("sse: init in state %s", c.State())
	}
	c.w, c.flusher, c.clientID = w, f, clientID

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	c.logger = c.logger.With(slog.String("client_id", clientID))
	c.Send(EventConnected, ConnectedPayload{ClientID: clientID, Timestamp: time.Now().UnixMilli()})

	go c.heartbeat()
	go func() {
		select {
		case <-r.Context().Done():
			c.teardown(ReasonPeerGone)
		case <-c.done:
		}
	}()
	return nil
}

// Send writes one event. It reports false, without error, when the channel
// is not open or the write fails.
func (c *Channel) Send(event string, payload any) bool {
	if !c.IsAlive() {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("sse payload encode failed", slog.String("event", event), slog.String("error", err.Error()))
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.IsAlive() {
		return false
	}
	return c.writeLocked(Encode(event, data))
}

// IsAlive reports whether events can still be written.
func (c *Channel) IsAlive() bool {
	return State(c.state.Load()) == StateOpen
}

// Close emits the terminal close event and ends the stream. Only the first
// call has any effect.
func (c *Channel) Close(reason string) {
	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.mu.Unlock()
		if State(c.state.Load()) == StateUninitialized {
			c.teardown(reason)
		}
		return
	}
	data, _ := json.Marshal(ClosePayload{Reason: reason})
	c.writeLocked(Encode(EventClose, data))
	c.mu.Unlock()
	c.teardown(reason)
}

func (c *Channel) State() State { return State(c.state.Load()) }

// Done is closed once the channel is closed for any reason.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Reason is why the channel closed, empty while open.
func (c *Channel) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Channel) EventsSent() int64 { return c.events.Load() }
func (c *Channel) BytesSent() int64  { return c.bytes.Load() }

func (c *Channel) teardown(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		c.logger.Debug("sse channel closed",
			slog.String("reason", reason),
			slog.Int64("events", c.events.Load()),
			slog.Int64("bytes", c.bytes.Load()))
		if c.opts.OnClosed != nil {
			c.opts.OnClosed(reason)
		}
	})
}

func (c *Channel) heartbeat() {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if State(c.state.Load()) == StateOpen {
				c.writeLocked([]byte(": heartbeat\n\n"))
			}
			c.mu.Unlock()
		}
	}
}

// writeLocked writes and flushes one frame while open or closing. A failed
// write closes the channel. Callers hold c.mu.
func (c *Channel) writeLocked(frame []byte) bool {
	if st := State(c.state.Load()); st != StateOpen && st != StateClosing {
		return false
	}
	n, err := c.w.Write(frame)
	c.bytes.Add(int64(n))
	if err != nil {
		c.state.Store(int32(StateClosed))
		go c.teardown(ReasonWriteError)
		return false
	}
	c.flusher.Flush()
	if !bytes.HasPrefix(frame, []byte(":")) {
		c.events.Add(1)
	}
	return true
}

// Encode frames one event. Multi-line data gets one "data: " prefix per line.
func Encode(event string, data []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(event) + len(data) + 16)
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		b.WriteString("data: ")
		b.Write(bytes.TrimRight(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}
