// Package server exposes sessions over HTTP, server-sent events and
// websockets, with a gRPC health service alongside.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/monitoring"
	"github.com/23skdu/longbow-parley/internal/registry"
)

const Version = "0.1.0"

type Config struct {
	Addr           string
	GRPCAddr       string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	// TurnTimeout bounds a single turn. Zero means no limit.
	TurnTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Addr:        ":8080",
		GRPCAddr:    ":8081",
		ReadTimeout: 30 * time.Second,
	}
}

type Server struct {
	config   *Config
	router   *chi.Mux
	registry *registry.Registry
	log      *logger.Logger

	httpSrv *http.Server
	grpcSrv *grpc.Server
	health  *health.Server
	monitor *monitoring.Monitor
}

func New(cfg *Config, reg *registry.Registry) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		registry: reg,
		log:      logger.Log.With("server"),
		monitor:  monitoring.New(),
	}
	s.grpcSrv, s.health = newGRPCServer()

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP and, when configured, gRPC health until ctx is done.
// Both listeners are bound before anything is served.
func (s *Server) Start(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	var grpcLis net.Listener
	if s.config.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", s.config.GRPCAddr); err != nil {
			httpLis.Close()
			return err
		}
	}

	s.httpSrv = &http.Server{
		Addr:        httpLis.Addr().String(),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLis.Addr().String())
		if err := s.httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			s.log.Info("grpc health listening", "addr", grpcLis.Addr().String())
			return s.grpcSrv.Serve(grpcLis)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
