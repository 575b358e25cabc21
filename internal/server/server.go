// Package server exposes the keep-alive page, a health probe and
// Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bunny-chatter/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// SessionCounter reports how many sessions the registry knows.
type SessionCounter interface {
	Len() int
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type Server struct {
	addr     string
	awake    string
	sessions SessionCounter
	gatherer prometheus.Gatherer
	log      *logging.Logger
	srv      *http.Server
}

func New(addr, awake string, sessions SessionCounter, gatherer prometheus.Gatherer, log *logging.Logger) *Server {
	return &Server{
		addr:     addr,
		awake:    awake,
		sessions: sessions,
		gatherer: gatherer,
		log:      log.Sub("http"),
	}
}

// Handler builds the chi router with every route wired.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleAwake())
	r.Get("/health", s.handleHealth())
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleAwake() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(s.awake))
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if s.sessions != nil {
			resp.Sessions = s.sessions.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully. An empty address disables the listener.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		s.log.Info().Msg("http listener disabled")
		return nil
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.WithoutCancel(ctx), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return nil
}
