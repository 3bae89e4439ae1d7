package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/clipvault/semantic/internal/orchestrator"
	"github.com/clipvault/semantic/internal/semerr"
)

// defaultHTTPTimeout bounds handlers that don't own their own deadline.
const defaultHTTPTimeout = 30 * time.Second

// defaultMaxBodyBytes caps request bodies; every handler here is small
// JSON or query-string driven, so this is generous rather than tight.
const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Server exposes the command surface named in spec.md §6 over HTTP, on
// top of an Orchestrator (C6).
type Server struct {
	orch   *orchestrator.Orchestrator
	router *chi.Mux
	server *http.Server
	auth   *TokenAuth
	bulk   *BulkOperationLimiter
	expOps *ExpensiveOperationLimiter
	log    zerolog.Logger
}

// Config configures the HTTP command surface.
type Config struct {
	Addr         string
	RequireToken bool
	BulkCooldown time.Duration
}

// New builds a Server wired to orch. The returned router is ready to
// serve; call Start to bind a listener.
func New(orch *orchestrator.Orchestrator, cfg Config, log zerolog.Logger) (*Server, error) {
	auth, err := NewTokenAuth(cfg.RequireToken)
	if err != nil {
		return nil, fmt.Errorf("token auth: %w", err)
	}

	cooldown := cfg.BulkCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	s := &Server{
		orch:   orch,
		auth:   auth,
		bulk:   NewBulkOperationLimiter(int64(cooldown.Seconds())),
		expOps: NewExpensiveOperationLimiter(),
		log:    log.With().Str("component", "httpapi").Logger(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(MaxBodySize(defaultMaxBodyBytes))
	r.Use(middleware.Timeout(defaultHTTPTimeout))
	r.Use(auth.Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/search", s.handleSearch)
	r.Post("/api/download", s.handleStartDownload)
	r.Post("/api/download/cancel", s.handleCancelDownload)
	r.Get("/api/download/manual-info", s.handleManualDownloadInfo)
	r.Post("/api/index/bulk", s.handleStartBulkIndexing)
	r.Post("/api/index/rebuild", s.handleRebuildIndex)

	s.router = r
	return s, nil
}

// Router returns the underlying handler, mostly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start binds addr and serves until Shutdown is called. Binding and
// serving happen in a background goroutine, so Start returns without
// waiting for the listener; listen and serve errors are logged, not
// returned, matching the daemon's fire-and-forget HTTP goroutine
// convention.
func (s *Server) Start(addr string) {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()
	s.log.Info().Str("addr", addr).Msg("command surface listening")
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Token exposes the generated auth token so the daemon entry point can
// hand it to the CLI/UI out of band (e.g. a sidecar file).
func (s *Server) Token() string { return s.auth.Token() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	results, err := s.orch.Search(r.Context(), q, limit)
	if err != nil {
		writeSemErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StartDownload(r.Context()); err != nil {
		writeSemErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "downloading"})
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	s.orch.CancelDownload()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleManualDownloadInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ManualDownloadInfo())
}

func (s *Server) handleStartBulkIndexing(w http.ResponseWriter, r *http.Request) {
	if !s.bulk.CanExecute() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":              "bulk indexing on cooldown",
			"cooldown_remaining": s.bulk.CooldownRemaining(),
		})
		return
	}
	s.orch.StartBulkIndexing()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	if !s.expOps.CanRebuild() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rebuild on cooldown"})
		return
	}
	s.orch.RebuildIndex(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuilding"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// semErrStatus maps a semerr.Kind to the HTTP status a command-surface
// client should see (spec.md §7).
func semErrStatus(kind semerr.Kind) int {
	switch kind {
	case semerr.KindEmptyQuery:
		return http.StatusBadRequest
	case semerr.KindDisabled, semerr.KindModelUnavailable, semerr.KindModelMissing:
		return http.StatusServiceUnavailable
	case semerr.KindAlreadyDownloading:
		return http.StatusConflict
	case semerr.KindModelCorrupt, semerr.KindDownloadFailed, semerr.KindModelOOM:
		return http.StatusUnprocessableEntity
	case semerr.KindCancelled:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeSemErr(w http.ResponseWriter, err error) {
	kind, ok := semerr.Of(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, semErrStatus(kind), map[string]string{"error": string(kind), "detail": err.Error()})
}
