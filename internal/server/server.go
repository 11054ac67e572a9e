// Package server hosts the dbsketch HTTP boundary. It owns the HTTP server
// lifecycle and rebuilds the extraction pipeline when configuration changes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/cors"

	"github.com/dbsketch/dbsketch/internal/api"
	"github.com/dbsketch/dbsketch/internal/config"
	"github.com/dbsketch/dbsketch/internal/pipeline"
	"github.com/dbsketch/dbsketch/internal/providers"
	"github.com/dbsketch/dbsketch/internal/server/endpoints"
	"github.com/dbsketch/dbsketch/internal/svcctx"
)

// Server is the dbsketch HTTP server.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu        sync.RWMutex
	extractor *pipeline.Extractor
	cfg       *config.Config
	running   bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8000)
	Port string
	// ConfigManager provides configuration with hot-reload support (required)
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// NewClient builds the chat client for a config. Overridable in tests;
	// defaults to the Hugging Face client.
	NewClient func(*config.Config) providers.LLMClient
}

// New creates a new Server with the given configuration. The configuration is
// validated before anything is wired: a missing API token fails here, at
// startup, not at first request.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.NewClient == nil {
		cfg.NewClient = func(c *config.Config) providers.LLMClient {
			return providers.NewHFClient(providers.HFConfig{
				APIKey:  c.ResolvedToken(),
				BaseURL: c.BaseURL,
				Timeout: c.StageTimeout(),
			})
		}
	}

	appCfg := cfg.ConfigManager.Get()
	if err := appCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}
	s.reconfigure(cfg.NewClient, appCfg)

	// Rebuild the pipeline when configuration changes on disk.
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		if err := c.Validate(); err != nil {
			cfg.Logger.Error("ignoring invalid config reload", "error", err)
			return
		}
		s.reconfigure(cfg.NewClient, c)
		cfg.Logger.Info("extraction pipeline reloaded from config")
	})

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   appCfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      corsHandler(s.withServices(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // extraction can take several model round-trips
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// reconfigure swaps in a pipeline built from the given config.
func (s *Server) reconfigure(newClient func(*config.Config) providers.LLMClient, c *config.Config) {
	extractor := pipeline.New(newClient(c), pipeline.Config{
		VisionModel:  c.VisionModel,
		BrainModel:   c.BrainModel,
		MaxAttempts:  c.MaxAttempts,
		MaxTokens:    c.MaxTokens,
		StageTimeout: c.StageTimeout(),
	}, s.logger)

	s.mu.Lock()
	s.extractor = extractor
	s.cfg = c
	s.mu.Unlock()
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
// The current extractor is resolved per request so hot reloads take effect
// without restarting in-flight connections.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		services := &svcctx.Services{
			Extractor: s.extractor,
			Config:    s.cfg,
			Logger:    s.logger,
		}
		s.mu.RUnlock()

		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
}

// requireInit is middleware that ensures the pipeline is configured.
// Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svcctx.ExtractorFrom(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"pipeline not configured"}`))
			return
		}
		next(w, r)
	}
}
