package mock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/frames"
)

type TTSConfig struct {
	StreamID   string
	SampleRate int
	Channels   int
	// ChunksPerSegment is how many audio frames each SendText produces.
	ChunksPerSegment int
	// Latency delays every emitted segment.
	Latency time.Duration
	// StartErr makes Start fail.
	StartErr error
	// FailOnSegment emits a ControlError instead of audio for that
	// 1-based segment number. Zero disables it.
	FailOnSegment int
}

// StreamingTTS is a deterministic in-process provider. Each chunk's payload
// is "<text>#<n>" so tests can assert on audio content.
type StreamingTTS struct {
	cfg     TTSConfig
	out     chan frames.Frame
	in      chan string
	pts     *frames.PTSGen
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	sentMu sync.Mutex
	sent   []string
}

func NewTTS(cfg TTSConfig) *StreamingTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.ChunksPerSegment <= 0 {
		cfg.ChunksPerSegment = 2
	}
	return &StreamingTTS{
		cfg: cfg,
		out: make(chan frames.Frame, 64),
		in:  make(chan string, 64),
		pts: frames.NewPTSGen(),
	}
}

// Factory adapts NewTTS to the registry signature.
func Factory(base TTSConfig) tts.Factory {
	return func(cfg tts.Config) (tts.StreamingTTS, error) {
		c := base
		c.StreamID = cfg.StreamID
		if cfg.SampleRate > 0 {
			c.SampleRate = cfg.SampleRate
		}
		return NewTTS(c), nil
	}
}

func (s *StreamingTTS) Name() string { return "mock_tts" }

func (s *StreamingTTS) Start(ctx context.Context) error {
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return errors.New("mock tts: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *StreamingTTS) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if started {
		s.wg.Wait()
	}
	close(s.out)
	return nil
}

func (s *StreamingTTS) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return errors.New("mock tts: not started")
	}
	s.sentMu.Lock()
	s.sent = append(s.sent, text)
	s.sentMu.Unlock()
	select {
	case s.in <- text:
		return nil
	default:
		return errors.New("mock tts: input queue full")
	}
}

func (s *StreamingTTS) Flush() {}

func (s *StreamingTTS) Results() <-chan frames.Frame { return s.out }

// Sent returns every text the provider received, in order.
func (s *StreamingTTS) Sent() []string {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *StreamingTTS) loop() {
	defer s.wg.Done()
	segment := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.in:
			segment++
			if s.cfg.Latency > 0 {
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(s.cfg.Latency):
				}
			}
			if segment == s.cfg.FailOnSegment {
				s.emit(frames.NewErrorFrame(s.cfg.StreamID, s.Name(), fmt.Errorf("mock tts: segment %d failed", segment)))
				continue
			}
			s.emitSegment(segment, text)
		}
	}
}

func (s *StreamingTTS) emitSegment(segment int, text string) {
	meta := map[string]string{
		frames.MetaSource:  s.Name(),
		frames.MetaSegment: strconv.Itoa(segment),
	}
	for i := 0; i < s.cfg.ChunksPerSegment; i++ {
		payload := []byte(fmt.Sprintf("%s#%d", text, i))
		if !s.emit(frames.NewAudioFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), payload, s.cfg.SampleRate, s.cfg.Channels, meta)) {
			return
		}
	}
	s.emit(frames.NewControlFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), frames.ControlAudioReady, meta))
}

func (s *StreamingTTS) emit(f frames.Frame) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.out <- f:
		return true
	}
}

var _ tts.StreamingTTS = (*StreamingTTS)(nil)
