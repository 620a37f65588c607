package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/frames"
	"github.com/harunnryd/voxstream/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

type Config struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Encoding   string `mapstructure:"encoding"`
	SampleRate int    `mapstructure:"sample_rate"`
	StreamID   string `mapstructure:"-"`
}

// StreamingTTS drives Deepgram's speak websocket. Every SendText is
// followed by a Flush, and Deepgram answers each Flush with a Flushed
// message once that text's audio has been sent, in order.
type StreamingTTS struct {
	cfg      Config
	dgClient *client.WSCallback
	out      chan frames.Frame
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	pts      *frames.PTSGen

	emitMu  sync.RWMutex
	closed  bool
	segMu   sync.Mutex
	sent    int
	flushed int
	once    sync.Once
}

func New(cfg Config) *StreamingTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "aura-2-thalia-en"
	}
	logger := logging.NewComponentLogger(slog.Default(), "deepgram_tts")
	return &StreamingTTS{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logger.With(slog.String("stream_id", cfg.StreamID)),
		pts:    frames.NewPTSGen(),
	}
}

// Factory decodes provider settings. A resolved voice id is used as the
// Deepgram model name, since Deepgram voices are models.
func Factory(settings map[string]any) tts.Factory {
	return func(c tts.Config) (tts.StreamingTTS, error) {
		var cfg Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		if err := configutil.RequireString(cfg.APIKey, "speech.providers.deepgram.api_key"); err != nil {
			return nil, err
		}
		cfg.StreamID = c.StreamID
		if c.VoiceID != "" {
			cfg.Model = c.VoiceID
		}
		if c.SampleRate > 0 {
			cfg.SampleRate = c.SampleRate
		}
		return New(cfg), nil
	}
}

func (s *StreamingTTS) Name() string { return "deepgram_tts" }

func (s *StreamingTTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return errors.New("missing deepgram config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	speakOptions := &interfaces.WSSpeakOptions{
		Model:      s.cfg.Model,
		Encoding:   s.cfg.Encoding,
		SampleRate: s.cfg.SampleRate,
	}

	s.logger.Info("initializing deepgram speak connection",
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(s.ctx, s.cfg.APIKey, clientOptions, speakOptions, &callback{parent: s})
	if err != nil {
		s.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return err
	}
	s.dgClient = dgClient

	if connected := s.dgClient.Connect(); !connected {
		s.logger.Error("deepgram_connect_failed")
		return fmt.Errorf("deepgram connection failed")
	}
	s.logger.Info("deepgram_connected", slog.String("model", s.cfg.Model))
	return nil
}

func (s *StreamingTTS) Close() error {
	s.once.Do(func() {
		s.logger.Debug("closing deepgram connection")
		if s.cancel != nil {
			s.cancel()
		}
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
		s.emitMu.Lock()
		s.closed = true
		close(s.out)
		s.emitMu.Unlock()
	})
	return nil
}

func (s *StreamingTTS) SendText(text string) error {
	if s.dgClient == nil {
		return fmt.Errorf("not started")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.segMu.Lock()
	defer s.segMu.Unlock()
	if err := s.dgClient.SpeakWithText(text); err != nil {
		s.logger.Error("failed to send text to deepgram", slog.String("error", err.Error()))
		return err
	}
	if err := s.dgClient.Flush(); err != nil {
		return err
	}
	s.sent++
	return nil
}

// Flush is a no-op: SendText already flushes every segment.
func (s *StreamingTTS) Flush() {}

func (s *StreamingTTS) Results() <-chan frames.Frame { return s.out }

// currentSegment is the oldest segment that has not been flushed yet.
func (s *StreamingTTS) currentSegment() string {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	return strconv.Itoa(s.flushed + 1)
}

func (s *StreamingTTS) segmentFlushed() string {
	s.segMu.Lock()
	defer s.segMu.Unlock()
	s.flushed++
	return strconv.Itoa(s.flushed)
}

func (s *StreamingTTS) emit(f frames.Frame) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *StreamingTTS
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) Binary(byMsg []byte) error {
	p := c.parent
	meta := map[string]string{
		frames.MetaSource:   "deepgram",
		frames.MetaSegment:  p.currentSegment(),
		frames.MetaEncoding: p.cfg.Encoding,
	}
	p.emit(frames.NewAudioFrameFromPool(p.cfg.StreamID, p.pts.Next(p.cfg.StreamID), byMsg, p.cfg.SampleRate, 1, meta))
	return nil
}

func (c *callback) Flush(fl *msginterfaces.FlushedResponse) error {
	p := c.parent
	meta := map[string]string{
		frames.MetaSource:  "deepgram",
		frames.MetaSegment: p.segmentFlushed(),
	}
	p.emit(frames.NewControlFrame(p.cfg.StreamID, p.pts.Next(p.cfg.StreamID), frames.ControlAudioReady, meta))
	return nil
}

func (c *callback) Clear(cl *msginterfaces.ClearedResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Debug("deepgram_connection_closed")
	return nil
}

func (c *callback) Warning(wr *msginterfaces.WarningResponse) error {
	c.parent.logger.Warn("deepgram_warning", slog.String("code", wr.WarnCode), slog.String("message", wr.WarnMsg))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	p := c.parent
	p.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	p.emit(frames.NewErrorFrame(p.cfg.StreamID, "deepgram", fmt.Errorf("deepgram %s: %s", er.ErrCode, er.ErrMsg)))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size", len(byData)))
	return nil
}

var (
	_ tts.StreamingTTS                   = (*StreamingTTS)(nil)
	_ msginterfaces.SpeakMessageCallback = (*callback)(nil)
)
