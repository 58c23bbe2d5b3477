// Package ops implements the operational HTTP surface for the long-running
// stream subscriber: health, readiness, metrics, and recent transcripts.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	stream "github.com/halvard/boreas/internal"
)

// ReadyChecker reports whether the subscriber is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// TranscriptLister returns recent transcripts, newest first.
type TranscriptLister interface {
	Recent(ctx context.Context, limit int) ([]stream.Transcript, error)
}

// StateFunc reports the current connection state.
type StateFunc func() stream.ConnState

// Deps holds all dependencies for the ops server.
type Deps struct {
	ReadyCheck     ReadyChecker     // nil = always ready
	MetricsHandler http.Handler     // nil = no /metrics route
	Transcripts    TranscriptLister // nil = no /v1/transcripts route
	ConnState      StateFunc        // nil = state omitted from /readyz body
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(s.recovery)
	r.Use(s.logging)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.Transcripts != nil {
		r.Get("/v1/transcripts", s.handleTranscripts)
	}

	return r
}

type server struct {
	deps Deps
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ready"}
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "not ready"
			body["error"] = err.Error()
		}
	}
	if s.deps.ConnState != nil {
		body["connection"] = s.deps.ConnState().String()
	}
	writeJSON(w, status, body)
}

func (s *server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	ts, err := s.deps.Transcripts.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("list transcripts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if ts == nil {
		ts = []stream.Transcript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": ts, "count": len(ts)})
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "error", rec, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
