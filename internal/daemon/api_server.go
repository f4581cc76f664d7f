package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"applytrack/internal/config"
	"applytrack/internal/ingest"
	"applytrack/internal/logging"
	"applytrack/internal/queue"
	"applytrack/internal/scheduler"
	"applytrack/internal/services"
)

var errIngestDisabled = services.Wrap(services.ErrConfiguration, "gmail-ingest", "start", "gmail ingestion is disabled", nil)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, tagRequest, chimw.Recoverer)
	if len(cfg.Paths.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Paths.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken(strings.TrimSpace(cfg.Paths.APIToken)))

		r.Get("/status", s.handleStatus)

		r.Post("/gmail/ingest", s.handleIngestStart)
		r.Get("/gmail/ingest/status", s.handleIngestStatus)

		r.Post("/maintenance/run", s.handleMaintenanceRun)
		r.Get("/maintenance/stats", s.handleMaintenanceStats)

		r.Get("/scheduler/status", s.handleSchedulerStatus)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleQueueList)
			r.Get("/stats", s.handleQueueStats)
			r.Get("/orphans", s.handleQueueOrphans)
			r.Post("/unblock", s.handleQueueUnblockAll)
			r.Post("/recover", s.handleQueueRecover)
			r.Post("/{kind}", s.handleQueueSubmit)
			r.Get("/{id}", s.handleQueueGet)
			r.Patch("/{id}", s.handleQueueUpdate)
			r.Delete("/{id}", s.handleQueueDelete)
			r.Post("/{id}/retry", s.handleQueueRetry)
			r.Post("/{id}/unblock", s.handleQueueUnblock)
		})

		r.Post("/listings", s.handleListingUpsert)
		r.Post("/listings/{id}/matches", s.handleListingMatch)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.log().Info("api server disabled (no bind address)")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleIngestStart(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.StartIngest(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *apiServer) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.IngestStatus(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.daemon.scheduler.RunJob(r.Context(), scheduler.JobMaintenance)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, result)
}

func (s *apiServer) handleMaintenanceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.MaintenanceStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.scheduler.Status(r.Context()))
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var classified queue.ErrorClassifier
	switch {
	case errors.As(err, &classified):
		switch classified.ErrorKind() {
		case "not_found":
			status = http.StatusNotFound
		case "conflict":
			status = http.StatusConflict
		case "validation":
			status = http.StatusBadRequest
		}
	case errors.Is(err, ingest.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log().Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
