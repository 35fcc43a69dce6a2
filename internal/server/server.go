// Package server provides the HTTP API over a memory index.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Service is the set of index operations the API exposes.
type Service interface {
	Sync(ctx context.Context) (*models.SyncReport, error)
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	ReadFile(ctx context.Context, relPath string, from, lines int) (*models.ReadResult, error)
	IndexChatExchange(ctx context.Context, ex *models.Exchange) (*models.AppendResult, error)
	IndexFilesystem(ctx context.Context, root string, opts models.FilesystemOptions) (*models.FilesystemReport, error)
	Status(ctx context.Context) (*models.Status, error)
}

// Server is the HTTP server for the memory API.
type Server struct {
	svc    Service
	logger *zap.Logger
	router  chi.Router
	server  *http.Server
	origins map[string]bool
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: utils.OrNop(logger),
	}
	if len(cfg.AllowedOrigins) > 0 {
		s.origins = make(map[string]bool, len(cfg.AllowedOrigins))
		for _, o := range cfg.AllowedOrigins {
			s.origins[strings.TrimSuffix(o, "/")] = true
		}
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(allowOrigins(s.origins))
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleSync)
		r.Post("/search", s.handleSearch)
		r.Get("/read", s.handleRead)
		r.Post("/exchanges", s.handleExchange)
		r.Post("/filesystem", s.handleFilesystem)
	})
	return r
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops. A clean Stop returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on an existing listener until it stops.
func (s *Server) Serve(l net.Listener) error {
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server. A server stopped before it started never serves.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// allowOrigins grants CORS access to the listed origins only. Requests from
// any other origin get no CORS headers, so browsers refuse to expose the response.
func allowOrigins(origins map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin == "" || !origins[origin] {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
