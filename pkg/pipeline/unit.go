package pipeline

import (
	"context"
	"io"
)

// UnitType tags one piece of a generated response.
type UnitType string

const (
	UnitMetadata       UnitType = "metadata"
	UnitText           UnitType = "text"
	UnitSuggestions    UnitType = "suggestions"
	UnitProductContext UnitType = "productContext"
	UnitComplete       UnitType = "complete"
)

// Unit is one item pulled from a Generator. Text is set for UnitText,
// Items for UnitSuggestions, and Data for metadata and product context.
type Unit struct {
	Type  UnitType
	Text  string
	Items []string
	Data  any
}

func Text(s string) Unit               { return Unit{Type: UnitText, Text: s} }
func Metadata(data any) Unit           { return Unit{Type: UnitMetadata, Data: data} }
func Suggestions(items ...string) Unit { return Unit{Type: UnitSuggestions, Items: items} }
func ProductContext(data any) Unit     { return Unit{Type: UnitProductContext, Data: data} }
func Complete() Unit                   { return Unit{Type: UnitComplete} }

// Generator produces a response one unit at a time. Next returns io.EOF
// once exhausted; a UnitComplete unit ends the stream as well.
type Generator interface {
	Next(ctx context.Context) (Unit, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context) (Unit, error)

func (f GeneratorFunc) Next(ctx context.Context) (Unit, error) { return f(ctx) }

// closeGenerator releases gen when it holds resources.
func closeGenerator(gen Generator) error {
	if c, ok := gen.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Prompt is what a generator is asked to answer.
type Prompt struct {
	Query    string
	Language string
	ClientID string
}

// Source opens one Generator per request.
type Source interface {
	Name() string
	Open(ctx context.Context, p Prompt) (Generator, error)
}
