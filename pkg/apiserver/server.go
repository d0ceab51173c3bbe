// Package apiserver exposes the ingestion and search engine over a
// small admin HTTP surface: add descriptors for an image, search by
// descriptors, and read index health.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/imsearch/retrieval/pkg/apiserver/middleware"
	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/observability"
)

// Server is the admin HTTP server.
type Server struct {
	cfg     *config.Config
	index   *ivf.Index
	store   metastore.Store
	cache   *ResultCache
	log     *observability.Logger
	metrics *observability.Metrics

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds a Server over an existing index and metadata
// store. log and metrics may be nil.
func NewServer(cfg *config.Config, index *ivf.Index, store metastore.Store, log *observability.Logger, metrics *observability.Metrics) *Server {
	if log == nil {
		log = observability.NewDefault()
	}

	s := &Server{
		cfg:     cfg,
		index:   index,
		store:   store,
		cache:   NewResultCache(1000, 5*time.Minute),
		log:     log,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.withMiddleware(s.mux),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/stats", s.handleStats)
	s.mux.HandleFunc("/v1/images", s.handleAdd)
	s.mux.HandleFunc("/v1/search", s.handleSearch)
}

func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = s.loggingMiddleware(handler)
	handler = middleware.RateLimit(middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSec: s.cfg.Server.RateLimitRPS,
		Burst:          s.cfg.Server.RateLimitBurst,
	}))(handler)
	handler = middleware.Auth(middleware.AuthConfig{
		JWTSecret:   s.cfg.Server.JWTSecret,
		PublicPaths: []string{"/healthz"},
	})(handler)
	return handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Start runs the HTTP server until it is stopped or fails.
func (s *Server) Start() error {
	s.log.Info("starting admin server", "addr", s.cfg.Server.Address())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("apiserver: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}
