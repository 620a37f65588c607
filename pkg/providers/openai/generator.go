package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/pipeline"
)

const (
	DefaultModel        = "gpt-4o-mini"
	defaultSystemPrompt = "You are a helpful voice assistant. Answer in short, plain sentences without markdown."
)

type Config struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Source streams chat completions as response units.
type Source struct {
	cfg    Config
	client *openai.Client
}

// NewFromSettings decodes the generator.settings block.
func NewFromSettings(settings map[string]any) (*Source, error) {
	var cfg Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("openai settings: %w", err)
	}
	return New(cfg)
}

func New(cfg Config) (*Source, error) {
	if err := configutil.RequireString(cfg.APIKey, "generator.settings.api_key"); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	cfg.Model = configutil.StringValue(cfg.Model, DefaultModel)
	cfg.SystemPrompt = configutil.StringValue(cfg.SystemPrompt, defaultSystemPrompt)
	cfg.Timeout = configutil.DurationValue(cfg.Timeout, 2*time.Minute)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Source{cfg: cfg, client: &client}, nil
}

func (s *Source) Name() string { return "openai" }

func (s *Source) Open(ctx context.Context, p pipeline.Prompt) (pipeline.Generator, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, errorsx.Newf(errorsx.ReasonGeneratorOpen, "openai: empty query")
	}
	system := s.cfg.SystemPrompt
	if p.Language != "" && !strings.HasPrefix(strings.ToLower(p.Language), "en") {
		system += " Answer in the language with code " + p.Language + "."
	}
	params := openai.ChatCompletionNewParams{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(p.Query),
		},
	}
	if s.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(s.cfg.Temperature)
	}
	if s.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(s.cfg.MaxTokens))
	}
	if p.ClientID != "" {
		params.User = param.NewOpt(p.ClientID)
	}
	return &generator{stream: s.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// generator turns completion chunks into text units. The first choice is
// the only one read.
type generator struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	done   bool
}

func (g *generator) Next(ctx context.Context) (pipeline.Unit, error) {
	if g.done {
		return pipeline.Unit{}, io.EOF
	}
	for g.stream.Next() {
		if err := ctx.Err(); err != nil {
			return pipeline.Unit{}, err
		}
		chunk := g.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			return pipeline.Text(delta.Content), nil
		}
		if delta.Refusal != "" {
			return pipeline.Text(delta.Refusal), nil
		}
	}
	g.done = true
	if err := g.stream.Err(); err != nil {
		return pipeline.Unit{}, fmt.Errorf("openai: stream: %w", err)
	}
	return pipeline.Unit{}, io.EOF
}

func (g *generator) Close() error {
	return g.stream.Close()
}

var _ pipeline.Source = (*Source)(nil)
