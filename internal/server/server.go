// Package server exposes the retrieval engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Aman-CERP/regsearch/internal/config"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/metrics"
	"github.com/Aman-CERP/regsearch/internal/retrieval"
	"github.com/Aman-CERP/regsearch/pkg/version"
)

// maxBodyBytes bounds a retrieve request body.
const maxBodyBytes = 1 << 20

// Retriever is the engine surface the server needs.
type Retriever interface {
	Retrieve(ctx context.Context, pq retrieval.ParsedQuery) (*retrieval.RetrievalResponse, error)
	Health() map[string]string
}

// Server routes HTTP requests to a Retriever.
type Server struct {
	engine    Retriever
	collector *metrics.Collector
	cfg       config.ServerConfig
	logger    *slog.Logger
}

// New creates a server. collector may be nil, which disables /metrics.
func New(engine Retriever, collector *metrics.Collector, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, collector: collector, cfg: cfg, logger: logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.jsonRecoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLogger)
	if s.collector != nil {
		r.Use(s.collector.Middleware())
		r.Method(http.MethodGet, "/metrics", s.collector.Handler())
	}
	r.Post("/v1/retrieve", s.handleRetrieve)
	r.Get("/healthz", s.handleHealth)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, rerrors.New(rerrors.ErrCodeInvalidInput, "malformed request body", err))
		return
	}
	pq, err := req.Parsed()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.engine.Retrieve(r.Context(), pq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Tiers   map[string]string `json:"tiers"`
}

// handleHealth reports ok unless every tier's circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	tiers := s.engine.Health()
	status, code := "ok", http.StatusOK
	open := 0
	for _, st := range tiers {
		if st == "open" {
			open++
		}
	}
	switch {
	case len(tiers) > 0 && open == len(tiers):
		status, code = "unavailable", http.StatusServiceUnavailable
	case open > 0:
		status = "degraded"
	}
	writeJSON(w, code, healthResponse{Status: status, Version: version.Short(), Tiers: tiers})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	case rerrors.GetCategory(err) == rerrors.CategoryValidation:
		code = http.StatusBadRequest
	}

	var re *rerrors.RegError
	if !errors.As(err, &re) {
		re = rerrors.Wrap(rerrors.ErrCodeInternal, err)
	}
	if code >= 500 {
		s.logger.Error("retrieve failed",
			append([]any{"request_id", chiMiddleware.GetReqID(r.Context())}, rerrors.LogAttrs(re)...)...)
	}

	body, mErr := rerrors.FormatJSON(re)
	if mErr != nil {
		http.Error(w, re.Message, code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRecoverer returns JSON instead of a plain text stacktrace.
func (s *Server) jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered", slog.Any("panic", rvr))
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"code":    rerrors.ErrCodeInternal,
					"message": "internal error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chiMiddleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}
		w.Header().Set("Server", version.UserAgent())

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("response_bytes", ww.BytesWritten()))
	})
}
