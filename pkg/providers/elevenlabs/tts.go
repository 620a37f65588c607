package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxstream/pkg/adapters/tts"
	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/frames"
	"github.com/harunnryd/voxstream/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

type Config struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	SampleRate   int    `mapstructure:"sample_rate"`
	BaseURL      string `mapstructure:"base_url"`
	StreamID     string `mapstructure:"-"`
}

// ElevenLabsTTS speaks to the multi-context websocket. Every SendText gets
// its own context id; the context is flushed and closed straight away so
// the server reports isFinal for it once its audio is out.
type ElevenLabsTTS struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan frames.Frame
	writeCh chan ttsMessage
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	pts     *frames.PTSGen
	logger  *slog.Logger

	segMu    sync.Mutex
	segments map[string]string
	nextSeg  int
	done     chan struct{}
	once     sync.Once
}

type ttsMessage struct {
	contextID string
	text      string
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_" + strconv.Itoa(cfg.SampleRate)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &ElevenLabsTTS{
		cfg:      cfg,
		out:      make(chan frames.Frame, 256),
		writeCh:  make(chan ttsMessage, 64),
		pts:      frames.NewPTSGen(),
		segments: make(map[string]string),
		done:     make(chan struct{}),
		logger:   slog.Default().With(slog.String("component", "elevenlabs_tts"), slog.String("stream_id", cfg.StreamID)),
	}
}

// Factory decodes provider settings and applies the resolved voice.
func Factory(settings map[string]any) tts.Factory {
	return func(c tts.Config) (tts.StreamingTTS, error) {
		var cfg Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		if err := configutil.RequireString(cfg.APIKey, "speech.providers.elevenlabs.api_key"); err != nil {
			return nil, err
		}
		cfg.StreamID = c.StreamID
		if c.VoiceID != "" {
			cfg.VoiceID = c.VoiceID
		}
		if c.SampleRate > 0 {
			cfg.SampleRate = c.SampleRate
			cfg.OutputFormat = ""
		}
		return New(cfg), nil
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs_tts" }

func (s *ElevenLabsTTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	u, err := s.buildURL()
	if err != nil {
		return err
	}

	s.logger.Debug("connecting to ElevenLabs", slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(s.ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("ElevenLabs rate limit exceeded", slog.String("status", resp.Status))
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		s.logger.Error("failed to connect to ElevenLabs", slog.String("error", err.Error()))
		return err
	}

	s.conn = conn
	s.logger.Info("connected to ElevenLabs", slog.String("output_format", s.cfg.OutputFormat))

	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *ElevenLabsTTS) Close() error {
	var err error
	s.once.Do(func() {
		s.logger.Debug("tts close called")
		if s.conn != nil {
			_ = s.send(map[string]any{"close_socket": true})
			s.mu.Lock()
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.mu.Unlock()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			err = s.conn.Close()
			<-s.done
			return
		}
		close(s.out)
	})
	return err
}

func (s *ElevenLabsTTS) SendText(text string) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.segMu.Lock()
	s.nextSeg++
	seg := strconv.Itoa(s.nextSeg)
	contextID := "seg-" + seg
	s.segments[contextID] = seg
	s.segMu.Unlock()

	select {
	case s.writeCh <- ttsMessage{contextID: contextID, text: text + " "}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Flush is a no-op: each segment is flushed as soon as it is written.
func (s *ElevenLabsTTS) Flush() {}

func (s *ElevenLabsTTS) Results() <-chan frames.Frame { return s.out }

func (s *ElevenLabsTTS) buildURL() (string, error) {
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	base.Path = "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/multi-stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("inactivity_timeout", "60")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *ElevenLabsTTS) writeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			if err := s.send(map[string]any{"text": msg.text, "context_id": msg.contextID}); err != nil {
				// readLoop sees the broken socket and reports it.
				s.logger.Error("tts write failed", slog.String("error", err.Error()))
				_ = s.conn.Close()
				return
			}
			_ = s.send(map[string]any{"context_id": msg.contextID, "flush": true})
			_ = s.send(map[string]any{"context_id": msg.contextID, "close_context": true})
		case <-ticker.C:
			// Keep-alive so idle sockets survive the inactivity timeout.
			_ = s.send(map[string]any{"text": ""})
		}
	}
}

func (s *ElevenLabsTTS) readLoop() {
	defer func() {
		close(s.out)
		close(s.done)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("tts read loop error", slog.String("error", err.Error()))
				s.fail(err)
			}
			return
		}
		if !s.handleMessage(data) {
			return
		}
	}
}

type serverMessage struct {
	Audio     string `json:"audio"`
	ContextID string `json:"contextId"`
	IsFinal   bool   `json:"isFinal"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (s *ElevenLabsTTS) handleMessage(data []byte) bool {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("tts websocket raw data", slog.Int("size", len(data)))
		return true
	}
	if msg.Error != "" {
		s.emit(frames.NewErrorFrame(s.cfg.StreamID, s.Name(), fmt.Errorf("elevenlabs: %s %s", msg.Error, msg.Message)))
		return true
	}
	s.segMu.Lock()
	seg := s.segments[msg.ContextID]
	if msg.IsFinal {
		delete(s.segments, msg.ContextID)
	}
	s.segMu.Unlock()

	meta := map[string]string{
		frames.MetaSource:   "elevenlabs",
		frames.MetaSegment:  seg,
		frames.MetaEncoding: s.cfg.OutputFormat,
	}
	if msg.Audio != "" {
		raw, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			s.logger.Error("tts audio decode error", slog.String("error", err.Error()))
			return true
		}
		s.logger.Debug("tts audio chunk received", slog.Int("size_bytes", len(raw)), slog.String("segment", seg))
		if !s.emit(frames.NewAudioFrameFromPool(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), raw, s.cfg.SampleRate, 1, meta)) {
			return false
		}
	}
	if msg.IsFinal {
		return s.emit(frames.NewControlFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), frames.ControlAudioReady, meta))
	}
	return true
}

func (s *ElevenLabsTTS) emit(f frames.Frame) bool {
	select {
	case s.out <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// fail is only called from readLoop, which owns s.out.
func (s *ElevenLabsTTS) fail(err error) {
	select {
	case s.out <- frames.NewErrorFrame(s.cfg.StreamID, s.Name(), err):
	default:
		s.logger.Warn("tts output buffer full, dropping error", slog.String("error", err.Error()))
	}
}

func (s *ElevenLabsTTS) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

var _ tts.StreamingTTS = (*ElevenLabsTTS)(nil)
