// Package server exposes the stream endpoint and the introspection surface
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/pipeline"
	"github.com/harunnryd/voxstream/pkg/transports/sse"
	"github.com/harunnryd/voxstream/pkg/voxstream"
)

const maxRequestBody = 64 << 10

// Server routes HTTP requests to an Engine.
type Server struct {
	engine     *voxstream.Engine
	cfg        voxstream.Config
	logger     *slog.Logger
	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
}

func New(engine *voxstream.Engine, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		cfg:    engine.Config(),
		logger: logging.NewComponentLogger(logger, "server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()
	agg := s.engine.Aggregator()

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler(s.cfg.Metrics.Namespace, agg))
	s.mux.HandleFunc("GET /v1/metrics", s.handleSnapshot)
	s.mux.HandleFunc("GET /v1/metrics/summary", s.handleSummary)
	s.mux.HandleFunc("GET /v1/activity", s.handleActivity)
	s.mux.HandleFunc("GET "+s.cfg.Server.StreamPath, s.handleStream)
	s.mux.HandleFunc("POST "+s.cfg.Server.StreamPath, s.handleStream)

	s.handler = otelhttp.NewHandler(s.recover(s.mux), "voxstream",
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx ends, then shuts the listener down. In
// flight streams are drained by the pipeline runner, not here.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Server.Addr, "stream_path", s.cfg.Server.StreamPath)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(v))
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// streamRequest is the stream endpoint's input, from the query string on
// GET or a JSON or form body on POST.
type streamRequest struct {
	Query    string `json:"q"`
	Audio    bool   `json:"audio"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
	ClientID string `json:"client_id"`
}

func parseStreamRequest(r *http.Request) (streamRequest, error) {
	var req streamRequest
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody)).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid json body: %w", err)
		}
		return req, nil
	}
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("invalid form body: %w", err)
		}
	}
	get := r.FormValue
	req.Query = get("q")
	req.Language = get("language")
	req.Gender = get("gender")
	req.ClientID = get("client_id")
	if v := get("audio"); v != "" {
		audio, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid audio flag %q", v)
		}
		req.Audio = audio
	}
	return req, nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.engine.Registry().Draining() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is draining")
		return
	}
	req, err := parseStreamRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "q is required")
		return
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	streamID := uuid.NewString()

	ch := sse.New(sse.Options{
		Heartbeat: s.cfg.SSE.Heartbeat,
		Logger:    s.logger,
		OnClosed: func(reason string) {
			s.logger.Debug("channel closed", "stream_id", streamID, "reason", reason)
		},
	})
	if err := ch.Init(w, r, req.ClientID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.engine.Aggregator().TrackUser(req.ClientID)

	err = s.engine.Stream(r.Context(), pipeline.Prompt{
		Query:    req.Query,
		Language: req.Language,
		ClientID: req.ClientID,
	}, ch, pipeline.StreamOptions{
		StreamID: streamID,
		ClientID: req.ClientID,
		Audio:    req.Audio,
		Language: req.Language,
		Gender:   req.Gender,
	})
	if err != nil {
		s.logger.Warn("stream ended with error", "stream_id", streamID, "error", err)
	}
	ch.Close(pipeline.CloseComplete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.engine.Health()
	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Aggregator().Snapshot())
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	metrics.WriteText(w, s.engine.Aggregator().Snapshot())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events := s.engine.Aggregator().RecentEvents(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"type":  "error",
		"error": map[string]any{"message": message, "status": status},
	})
}
