package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/cache"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/frames"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

const maxPendingWrites = 4

// Handle is the future for one submitted sentence. It resolves once the
// sentence's audio is complete, or rejects with the session's error.
type Handle struct {
	Index     int
	Text      string
	FromCache bool

	key      string
	segment  string
	chunks   [][]byte
	drained  int
	finished bool
	err      error
	done     chan struct{}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return h.Audio(), h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Audio returns the complete audio once settled, nil before.
func (h *Handle) Audio() []byte {
	select {
	case <-h.done:
		return bytes.Join(h.chunks, nil)
	default:
		return nil
	}
}

func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Chunk is one piece of audio ready for the client, in submission order.
type Chunk struct {
	Sentence  int
	Data      []byte
	FromCache bool
	// Last is set on the final chunk of a sentence. A Last chunk may carry
	// no data when the sentence's audio was already drained.
	Last bool
	Err  error
}

// Session is one provider channel for one stream. Submit is called from a
// single goroutine; Drain may be called from any.
type Session struct {
	syn      *Synthesizer
	provider tts.StreamingTTS
	ctx      context.Context
	cancel   context.CancelFunc
	streamID string
	language string
	voice    string
	onError  func(error)
	logger   *slog.Logger

	mu        sync.Mutex
	queue     []*Handle
	inflight  []*Handle
	submitted int
	sent      int
	lastFrame time.Time
	dead      bool
	err       error
	closing   bool

	ready      chan struct{}
	readerDone chan struct{}
	writes     sync.WaitGroup
	writeSlots chan struct{}
	errOnce    sync.Once
	closeOnce  sync.Once
}

func newSession(syn *Synthesizer, provider tts.StreamingTTS, ctx context.Context, cancel context.CancelFunc, opts OpenOptions, voice string) *Session {
	s := &Session{
		syn:        syn,
		provider:   provider,
		ctx:        ctx,
		cancel:     cancel,
		streamID:   opts.StreamID,
		language:   opts.Language,
		voice:      voice,
		onError:    opts.OnError,
		logger:     syn.logger.With(slog.String("stream_id", opts.StreamID)),
		ready:      make(chan struct{}, 1),
		readerDone: make(chan struct{}),
		writeSlots: make(chan struct{}, maxPendingWrites),
	}
	go s.readLoop()
	return s
}

func (s *Session) Voice() string    { return s.voice }
func (s *Session) Language() string { return s.language }

// Ready signals that Drain has something to return.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Alive reports whether the provider channel is still usable.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead && !s.closing
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Submit cleans text and either serves it from cache or writes it to the
// provider. A provider result arrives later through Ready/Drain; the
// returned handle settles when it does.
func (s *Session) Submit(ctx context.Context, text string) (*Handle, error) {
	s.mu.Lock()
	if s.dead {
		err := s.err
		s.mu.Unlock()
		return nil, errorsx.Wrap(fmt.Errorf("%w: %v", ErrSessionDead, err), errorsx.ReasonSpeechProvider)
	}
	if s.closing {
		s.mu.Unlock()
		return nil, errorsx.Wrap(ErrSessionClosed, errorsx.ReasonSpeechProvider)
	}
	s.mu.Unlock()

	clean := s.syn.sanitizer.Clean(text)
	if clean == "" {
		return nil, ErrNothingToSay
	}
	h := &Handle{Text: clean, key: cache.Key(clean, s.language, s.voice), done: make(chan struct{})}

	if audio, ok := s.lookup(ctx, h.key); ok {
		h.FromCache = true
		h.chunks = [][]byte{audio}
		h.finished = true
		close(h.done)
		s.mu.Lock()
		h.Index = s.nextIndexLocked()
		s.queue = append(s.queue, h)
		s.mu.Unlock()
		s.signal()
		return h, nil
	}

	s.mu.Lock()
	h.Index = s.nextIndexLocked()
	// Providers number segments by SendText call, starting at 1.
	s.sent++
	h.segment = strconv.Itoa(s.sent)
	s.queue = append(s.queue, h)
	s.inflight = append(s.inflight, h)
	if len(s.inflight) == 1 {
		s.lastFrame = time.Now()
	}
	s.mu.Unlock()

	if err := s.provider.SendText(clean); err != nil {
		err = errorsx.Wrap(fmt.Errorf("speech: send: %w", err), errorsx.ReasonSpeechSend)
		s.fail(err)
		return h, err
	}
	return h, nil
}

func (s *Session) nextIndexLocked() int {
	s.submitted++
	return s.submitted
}

func (s *Session) lookup(ctx context.Context, key string) ([]byte, bool) {
	c := s.syn.cache
	if !c.Available() {
		s.syn.recordMiss()
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, s.syn.cfg.CacheTimeout)
	defer cancel()
	audio, ok, err := c.Get(cctx, key)
	if err != nil {
		s.logger.Debug("audio cache read failed",
			slog.String("cache", c.Name()),
			slog.String("reason", string(errorsx.ReasonCacheRead)),
			slog.String("error", err.Error()))
	}
	if err != nil || !ok || len(audio) == 0 {
		s.syn.recordMiss()
		return nil, false
	}
	s.syn.recordHit()
	return audio, true
}

// Drain returns every chunk that can be delivered without breaking
// submission order, and drops fully delivered sentences from the queue.
func (s *Session) Drain() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Chunk
	for len(s.queue) > 0 {
		h := s.queue[0]
		for h.drained < len(h.chunks) {
			out = append(out, Chunk{Sentence: h.Index, Data: h.chunks[h.drained], FromCache: h.FromCache})
			h.drained++
		}
		if !h.finished {
			break
		}
		if n := len(out); n > 0 && out[n-1].Sentence == h.Index {
			out[n-1].Last = true
			out[n-1].Err = h.err
		} else {
			out = append(out, Chunk{Sentence: h.Index, FromCache: h.FromCache, Last: true, Err: h.err})
		}
		s.queue = s.queue[1:]
	}
	return out
}

// Pending counts submitted sentences not yet fully drained.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close ends the provider channel and waits, bounded by ctx and the
// configured close timeout, for it to wind down. Errors are logged only.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		closed := make(chan error, 1)
		go func() { closed <- s.provider.Close() }()

		timer := time.NewTimer(s.syn.cfg.CloseTimeout)
		defer timer.Stop()
		select {
		case err := <-closed:
			if err != nil {
				s.logger.Warn("speech provider close failed", slog.String("error", err.Error()))
			}
		case <-timer.C:
			s.logger.Warn("speech provider close timed out")
		case <-ctx.Done():
			s.logger.Warn("speech provider close abandoned", slog.String("error", ctx.Err().Error()))
		}
		s.cancel()

		readerStopped := false
		select {
		case <-s.readerDone:
			readerStopped = true
		case <-timer.C:
		case <-ctx.Done():
		}
		s.settleInflight(ErrSessionClosed)

		// Only the read loop starts writes, so waiting is safe once it is gone.
		if readerStopped {
			written := make(chan struct{})
			go func() {
				s.writes.Wait()
				close(written)
			}()
			select {
			case <-written:
			case <-timer.C:
			case <-ctx.Done():
			}
		}
		s.logger.Debug("speech session closed")
	})
}

func (s *Session) readLoop() {
	defer close(s.readerDone)
	interval := s.syn.cfg.SegmentTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	results := s.provider.Results()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkStall()
		case f, ok := <-results:
			if !ok {
				s.mu.Lock()
				unexpected := !s.closing && len(s.inflight) > 0
				s.mu.Unlock()
				if unexpected {
					s.fail(errorsx.Newf(errorsx.ReasonSpeechProvider, "speech: provider %s closed with audio pending", s.provider.Name()))
				}
				return
			}
			s.handleFrame(f)
		}
	}
}

func (s *Session) handleFrame(f frames.Frame) {
	switch v := f.(type) {
	case frames.AudioFrame:
		data := v.Data()
		segment := v.Segment()
		frames.ReleaseAudioFrame(v)
		s.mu.Lock()
		s.lastFrame = time.Now()
		i := s.inflightIndexLocked(segment)
		if i < 0 {
			s.mu.Unlock()
			s.logger.Debug("speech audio without pending sentence dropped",
				slog.String("segment", segment),
				slog.Int("size", len(data)))
			return
		}
		h := s.inflight[i]
		h.chunks = append(h.chunks, data)
		s.mu.Unlock()
		s.signal()
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlAudioReady:
			s.completeSegment(v.Meta()[frames.MetaSegment])
		case frames.ControlError:
			meta := v.Meta()
			err := errors.New(meta[frames.MetaError])
			reason := errorsx.ReasonSpeechProvider
			if meta[frames.MetaRateLimit] == "true" {
				err = resilience.RateLimitError{Provider: meta[frames.MetaSource], Message: meta[frames.MetaError]}
				reason = errorsx.ReasonSpeechRateLimit
			}
			s.syn.cfg.Breaker.OnError(err)
			s.fail(errorsx.Wrap(err, reason))
		}
	}
}

// inflightIndexLocked finds the in-flight sentence a frame belongs to.
// Frames without a segment go to the oldest one.
func (s *Session) inflightIndexLocked(segment string) int {
	if len(s.inflight) == 0 {
		return -1
	}
	if segment == "" {
		return 0
	}
	for i, h := range s.inflight {
		if h.segment == segment {
			return i
		}
	}
	return -1
}

// completeSegment settles the sentence the segment belongs to. Segments may
// finish in any order; Drain restores submission order.
func (s *Session) completeSegment(segment string) {
	s.mu.Lock()
	s.lastFrame = time.Now()
	i := s.inflightIndexLocked(segment)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	h := s.inflight[i]
	s.inflight = append(s.inflight[:i:i], s.inflight[i+1:]...)
	audio := bytes.Join(h.chunks, nil)
	s.mu.Unlock()

	if len(audio) == 0 || !s.syn.cache.Available() {
		s.resolve(h)
		return
	}
	// The write runs off the read loop, bounded by maxPendingWrites, and the
	// handle resolves after it so a repeat submission sees the entry.
	s.writeSlots <- struct{}{}
	s.writes.Add(1)
	go func() {
		defer func() {
			<-s.writeSlots
			s.writes.Done()
		}()
		s.store(h.key, audio)
		s.resolve(h)
	}()
}

func (s *Session) store(key string, audio []byte) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.syn.cfg.CacheTimeout)
	defer cancel()
	if err := s.syn.cache.Set(cctx, key, audio, s.syn.cfg.CacheTTL); err != nil {
		s.logger.Debug("audio cache write failed",
			slog.String("cache", s.syn.cache.Name()),
			slog.String("reason", string(errorsx.ReasonCacheWrite)),
			slog.String("error", err.Error()))
	}
}

func (s *Session) resolve(h *Handle) {
	s.mu.Lock()
	h.finished = true
	close(h.done)
	s.mu.Unlock()
	s.signal()
}

func (s *Session) checkStall() {
	s.mu.Lock()
	stalled := len(s.inflight) > 0 && !s.dead && time.Since(s.lastFrame) > s.syn.cfg.SegmentTimeout
	s.mu.Unlock()
	if stalled {
		s.fail(errorsx.Newf(errorsx.ReasonSpeechTimeout, "speech: no audio from %s for %s", s.provider.Name(), s.syn.cfg.SegmentTimeout))
	}
}

// fail marks the session dead, fires OnError once, then rejects everything
// still in flight.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	s.err = err
	s.mu.Unlock()

	s.logger.Warn("speech session failed",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	s.errOnce.Do(func() {
		if s.onError != nil {
			s.onError(err)
		}
	})
	s.settleInflight(err)
}

func (s *Session) settleInflight(err error) {
	s.mu.Lock()
	pending := s.inflight
	s.inflight = nil
	for _, h := range pending {
		h.finished = true
		h.err = err
		close(h.done)
	}
	s.mu.Unlock()
	if len(pending) > 0 {
		s.signal()
	}
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
