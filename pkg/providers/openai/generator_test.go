package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/pipeline"
)

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`, content)
}

func fakeCompletions(t *testing.T, parts []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if gotBody != nil {
			_ = json.NewDecoder(r.Body).Decode(gotBody)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range parts {
			fmt.Fprintf(w, "data: %s\n\n", chunk(p))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGeneratorStreamsText(t *testing.T) {
	var body map[string]any
	srv := fakeCompletions(t, []string{"Hello", " there", "."}, &body)
	defer srv.Close()

	src, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "test-model"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	gen, err := src.Open(context.Background(), pipeline.Prompt{Query: "hi", ClientID: "c1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer gen.(io.Closer).Close()

	var got []string
	for {
		u, err := gen.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if u.Type != pipeline.UnitText {
			t.Fatalf("unexpected unit %+v", u)
		}
		got = append(got, u.Text)
	}
	if strings.Join(got, "") != "Hello there." {
		t.Fatalf("unexpected text %q", got)
	}
	if body["model"] != "test-model" || body["stream"] != true {
		t.Fatalf("unexpected request body: %v", body)
	}
	if _, err := gen.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after end, got %v", err)
	}
}

func TestGeneratorSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	src, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	gen, err := src.Open(context.Background(), pipeline.Prompt{Query: "hi"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := gen.Next(context.Background()); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected an error, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := NewFromSettings(map[string]any{"model": "x"})
	if !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestOpenRejectsEmptyQuery(t *testing.T) {
	src, _ := New(Config{APIKey: "sk-test"})
	if _, err := src.Open(context.Background(), pipeline.Prompt{Query: "  "}); !errorsx.HasReason(err, errorsx.ReasonGeneratorOpen) {
		t.Fatalf("expected open error, got %v", err)
	}
}
