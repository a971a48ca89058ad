// Package server wires the judge, the handlers and the middleware into a
// chi router and runs the HTTP server.
//
// This is the composition root for the HTTP side: main builds the judge and
// hands it to New, which decides which routes exist and what middleware
// guards them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/code-judge/internal/auth"
	"github.com/sakif/code-judge/internal/executor"
	"github.com/sakif/code-judge/internal/handler"
	"github.com/sakif/code-judge/internal/middleware"
)

// Config holds server configuration.
type Config struct {
	Port           int
	JWTSecret      string // empty disables authentication on /api/judge
	AllowedOrigins []string
	// WriteTimeout must cover a full compile plus run.
	WriteTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	exec   executor.Executor
}

// New creates a Server serving exec. A non-empty JWTSecret that is too short
// to be safe is an error rather than a silently open API.
func New(cfg Config, logger *slog.Logger, exec executor.Executor) (*Server, error) {
	if exec == nil {
		return nil, errors.New("server: executor is required")
	}

	var tokens *auth.TokenService
	if cfg.JWTSecret != "" {
		var err error
		if tokens, err = auth.NewTokenService(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("JWT_SECRET not set, /api/judge is unauthenticated")
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		exec:   exec,
	}
	s.setupRoutes(tokens)
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and routes:
//
//	GET   /healthz              liveness
//	POST  /api/judge            compile and run a submission
//	GET   /api/judge/languages  supported languages
//
// Middleware order matters: request id first so every later layer can log it.
func (s *Server) setupRoutes(tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	judgeHandler := handler.NewJudgeHandler(s.exec, s.logger)

	s.router.Route("/api/judge", func(r chi.Router) {
		if tokens != nil {
			r.Use(auth.RequireAuth(tokens))
		}
		r.Post("/", judgeHandler.HandleJudge)
		r.Get("/languages", judgeHandler.HandleLanguages)
	})
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully. Requests
// still judging when the grace period ends have their context cancelled,
// which kills their running process.
func (s *Server) Start() error {
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			cancelRequests()
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
