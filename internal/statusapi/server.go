// Package statusapi exposes the scheduler's read model and triggers over a
// small local HTTP API:
//
//	GET  /api/v1/status     current SyncStatus
//	POST /api/v1/sync       run a manual pass, rate limited
//	PUT  /api/v1/auto-sync  {"enabled": bool}
//
// Errors are RFC 7807 problem documents.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	dsync "github.com/jinjinsansan/mentenansu-sub000/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// Controller is the subset of [dsync.Scheduler] the API drives.
type Controller interface {
	Status() dsync.SyncStatus
	TriggerManualSync(ctx context.Context) error
	ToggleAutoSync(ctx context.Context, enabled bool) error
}

// Options tunes the manual sync limiter. Zero values select the defaults.
type Options struct {
	SyncInterval time.Duration
	SyncBurst    int
}

// Server serves the status API.
type Server struct {
	ctrl    Controller
	log     *slog.Logger
	limiter *limiter
	router  chi.Router
}

// New builds the router. It does not listen; see [Server.Serve].
func New(ctrl Controller, opts Options, logger *slog.Logger) *Server {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.SyncBurst <= 0 {
		opts.SyncBurst = DefaultSyncBurst
	}
	s := &Server{
		ctrl:    ctrl,
		log:     logger,
		limiter: newLimiter(opts.SyncInterval, opts.SyncBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.With(s.limiter.middleware).Post("/sync", s.handleSync)
		r.Put("/auto-sync", s.handleAutoSync)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.TriggerManualSync(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	case errors.Is(err, dsync.ErrPassInProgress):
		writeProblem(w, r, http.StatusConflict, "a sync pass is already running")
	case errors.Is(err, dsync.ErrNotConnected):
		writeProblem(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, dsync.ErrUnreachable):
		writeProblem(w, r, http.StatusServiceUnavailable, "remote store unreachable")
	default:
		s.log.Error("manual sync failed", "error", err)
		writeProblem(w, r, http.StatusBadGateway, err.Error())
	}
}

type autoSyncRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAutoSync(w http.ResponseWriter, r *http.Request) {
	var req autoSyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}
	if req.Enabled == nil {
		writeProblem(w, r, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.ctrl.ToggleAutoSync(r.Context(), *req.Enabled); err != nil {
		s.log.Error("toggling auto-sync", "enabled", *req.Enabled, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "could not persist auto-sync setting")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
