// Package server is the HTTP shim over the search and ingestion use cases.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/elliot-woods/pgvector-search/internal/domain"
)

// Searcher answers nearest-neighbour queries.
type Searcher interface {
	SearchByText(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
	SearchByImageBytes(ctx context.Context, data []byte, k int) ([]domain.SearchResult, error)
}

// Ingester adds a single image to the store. It reports failure as false.
type Ingester interface {
	AddImageBytes(ctx context.Context, data []byte, identifier string) bool
}

type Config struct {
	ListenAddr     string
	CORSOrigins    []string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	searcher Searcher
	ingester Ingester
	log      *slog.Logger
}

func New(cfg Config, searcher Searcher, ingester Ingester, log *slog.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Image Similarity Search API", "0.1.0")
	humaConfig.Info.Description = "Nearest-neighbour image search over stored embeddings"
	api := humachi.New(r, humaConfig)

	s := &Server{
		router:   r,
		api:      api,
		cfg:      cfg,
		searcher: searcher,
		ingester: ingester,
		log:      log,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})
}
