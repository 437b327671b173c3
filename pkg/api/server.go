package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jpayne/fleetwatch/pkg/health"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
	"github.com/jpayne/fleetwatch/pkg/infra/store"
	"github.com/jpayne/fleetwatch/pkg/monitor"
)

// StatusSource is the daemon surface the API reads. The API never mutates
// daemon state.
type StatusSource interface {
	Health(ctx context.Context) health.SystemHealth
	LatestSnapshot() (monitor.MetricSnapshot, error)
	History(window time.Duration) []monitor.MetricSnapshot
	RecentAlerts(ctx context.Context, limit int) ([]store.AlertRecord, error)
	RecentScalings(ctx context.Context, limit int) ([]store.ScalingRecord, error)
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	source StatusSource
	config ServerConfig
	http   *http.Server
	log    *slog.Logger
}

func NewServer(source StatusSource, config ServerConfig) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:9180"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	return &Server{
		source: source,
		config: config,
		log:    logger.Default().With("component", "api"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/metrics/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/events/alerts", s.handleAlertEvents)
	mux.HandleFunc("GET /api/v1/events/scalings", s.handleScalingEvents)
	return mux
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info("starting status API", "addr", s.config.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}

func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := s.source.Health(r.Context())
	code := http.StatusOK
	if h.Status != health.StatusOK {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": string(h.Status)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Health(r.Context()))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.source.LatestSnapshot()
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no snapshot collected yet")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid window: "+raw)
			return
		}
		window = parsed
	}
	s.writeJSON(w, http.StatusOK, s.source.History(window))
}

func (s *Server) handleAlertEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	records, err := s.source.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read alert history: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleScalingEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	records, err := s.source.RecentScalings(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read scaling history: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.writeError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
