package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arequipa/aire-server/internal/logger"
)

// Server exposes /metrics and /health for one service
type Server struct {
	service string
	started time.Time
	http    *http.Server
}

// NewServer creates a metrics server listening on addr
func NewServer(service, addr string) *Server {
	s := &Server{service: service, started: time.Now()}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the underlying mux
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves in the background until Shutdown
func (s *Server) Start() {
	log := logger.WithComponent("metrics")
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("metrics server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": s.service,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}
