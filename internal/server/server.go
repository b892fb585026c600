// Package server is the reference server of record: a REST API over the
// SQLite store plus a websocket push hub that tells each user when one of
// their conversations changed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/config"
	"github.com/leonletto/chatsync/internal/push"
	"github.com/leonletto/chatsync/internal/store"
)

const limiterMaxIdle = 10 * time.Minute

// Server serves the chat API and push channel.
type Server struct {
	cfg     *config.ServerConfig
	store   *store.Store
	hub     *Hub
	limiter *RateLimiter
	metrics *metrics
	logger  zerolog.Logger
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds a server over an open store.
func New(cfg *config.ServerConfig, st *store.Store, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		limiter: NewRateLimiter(cfg.RateLimit),
		metrics: newMetrics(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()
	s.hub = NewHub(s.logger, s.metrics)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Handle(push.Path, s.hub).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix(api.BasePath).Subrouter()
	v1.Use(s.metrics.instrument, s.requestLogger, s.requireViewer, s.rateLimit)
	s.registerRoutes(v1)
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the push hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Seed upserts the configured profiles into the store.
func (s *Server) Seed(ctx context.Context) error {
	for _, seed := range s.cfg.Profiles {
		if err := s.store.UpsertProfile(ctx, seed.Profile()); err != nil {
			return fmt.Errorf("seed profile %s: %w", seed.UserID, err)
		}
	}
	if n := len(s.cfg.Profiles); n > 0 {
		s.logger.Info().Int("profiles", n).Msg("profiles seeded")
	}
	return nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.janitor(bgCtx)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop disconnects push clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	stop := s.stop
	s.mu.Unlock()

	s.hub.Close()
	if httpServer == nil {
		return nil
	}
	stop()

	err := httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

// janitor periodically forgets idle rate limiters.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.CleanupStale(limiterMaxIdle); n > 0 {
				s.logger.Debug().Int("removed", n).Msg("dropped idle rate limiters")
			}
		}
	}
}
