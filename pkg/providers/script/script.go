// Package script is a canned response generator. It needs no network and is
// the default generator for local runs and demos.
package script

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/voxstream/pkg/configutil"
	"github.com/harunnryd/voxstream/pkg/pipeline"
)

const defaultAnswer = "I can help with that. Ask me anything about your order, and I will answer in a few short sentences."

type Config struct {
	// Answers maps a lower-case keyword to the reply used when the query
	// contains it. The longest matching keyword wins.
	Answers       map[string]string `mapstructure:"answers"`
	DefaultAnswer string            `mapstructure:"default_answer"`
	TokenDelay    time.Duration     `mapstructure:"token_delay"`
	Suggestions   []string          `mapstructure:"suggestions"`
	Intent        string            `mapstructure:"intent"`
	// FailAfter makes the generator error after that many text units.
	FailAfter int `mapstructure:"fail_after"`
}

type Source struct {
	cfg Config
}

func NewFromSettings(settings map[string]any) (*Source, error) {
	var cfg Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, fmt.Errorf("script settings: %w", err)
	}
	return New(cfg), nil
}

func New(cfg Config) *Source {
	cfg.DefaultAnswer = configutil.StringValue(cfg.DefaultAnswer, defaultAnswer)
	answers := make(map[string]string, len(cfg.Answers))
	for k, v := range cfg.Answers {
		answers[strings.ToLower(strings.TrimSpace(k))] = v
	}
	cfg.Answers = answers
	return &Source{cfg: cfg}
}

func (s *Source) Name() string { return "script" }

func (s *Source) Open(_ context.Context, p pipeline.Prompt) (pipeline.Generator, error) {
	answer := s.answerFor(p.Query)
	units := []pipeline.Unit{pipeline.Metadata(map[string]any{
		"responseId": uuid.NewString(),
		"source":     s.Name(),
		"language":   p.Language,
	})}
	if s.cfg.Intent != "" {
		units = append(units, pipeline.Metadata(map[string]any{"intent": s.cfg.Intent}))
	}
	for _, tok := range tokenize(answer) {
		units = append(units, pipeline.Text(tok))
	}
	if len(s.cfg.Suggestions) > 0 {
		units = append(units, pipeline.Suggestions(s.cfg.Suggestions...))
	}
	units = append(units, pipeline.Complete())
	return &generator{units: units, delay: s.cfg.TokenDelay, failAfter: s.cfg.FailAfter}, nil
}

func (s *Source) answerFor(query string) string {
	q := strings.ToLower(query)
	keys := make([]string, 0, len(s.cfg.Answers))
	for k := range s.cfg.Answers {
		if k != "" && strings.Contains(q, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return s.cfg.DefaultAnswer
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return s.cfg.Answers[keys[0]]
}

// tokenize splits text into word-sized units that keep their leading space,
// so concatenating them gives back the original text.
func tokenize(text string) []string {
	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' && text[i-1] != ' ' {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

type generator struct {
	units     []pipeline.Unit
	pos       int
	texts     int
	delay     time.Duration
	failAfter int
}

func (g *generator) Next(ctx context.Context) (pipeline.Unit, error) {
	if g.pos >= len(g.units) {
		return pipeline.Unit{}, io.EOF
	}
	u := g.units[g.pos]
	if u.Type == pipeline.UnitText {
		if g.failAfter > 0 && g.texts >= g.failAfter {
			return pipeline.Unit{}, fmt.Errorf("script: scripted failure after %d units", g.texts)
		}
		if g.delay > 0 {
			t := time.NewTimer(g.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return pipeline.Unit{}, ctx.Err()
			case <-t.C:
			}
		}
		g.texts++
	}
	g.pos++
	return u, nil
}

var _ pipeline.Source = (*Source)(nil)
