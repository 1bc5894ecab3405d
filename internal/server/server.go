// Package server runs the casetrace HTTP API over the local job store.
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

	"github.com/casetrace/casetrace/internal/analysis"
	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/chunked"
	"github.com/casetrace/casetrace/internal/config"
	"github.com/casetrace/casetrace/internal/extract"
	"github.com/casetrace/casetrace/internal/home"
	"github.com/casetrace/casetrace/internal/jobs"
	"github.com/casetrace/casetrace/internal/server/endpoints"
	"github.com/casetrace/casetrace/internal/store"
	"github.com/casetrace/casetrace/internal/svcctx"
)

// stuckSweepInterval is how often the background sweep looks for jobs
// that stopped making progress.
const stuckSweepInterval = 10 * time.Minute

// Server is the main casetrace HTTP server. It owns the sqlite record
// store, the job manager, the chunked analysis engine and a small
// background runner for maintenance tasks.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	store      store.Store
	sqlite     *store.SQLiteStore
	jobManager *jobs.Manager
	engine     *chunked.Engine
	runner     *jobs.Runner

	// analyzerOverride replaces the OpenAI gateway when set. Used by tests.
	analyzerOverride analysis.Gateway

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the casetrace home directory
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Store overrides the sqlite store. Used by tests.
	Store store.Store
	// Analyzer overrides the OpenAI gateway. Used by tests.
	Analyzer analysis.Gateway
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		home:             cfg.Home,
		configMgr:        cfg.ConfigManager,
		store:            cfg.Store,
		analyzerOverride: cfg.Analyzer,
		logger:           cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		StuckThreshold: cfg.ConfigManager.Get().Jobs.StuckThreshold,
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server. It blocks until the context is cancelled or
// an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("prepare home directory: %w", err)
	}

	// Open the record store unless one was injected
	if s.store == nil {
		sq, err := store.OpenSQLite(s.home.DatabasePath())
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("open job store: %w", err)
		}
		s.sqlite = sq
		s.store = sq
		s.logger.Info("job store ready", "path", s.home.DatabasePath())
	}

	cfg := s.configMgr.Get()

	s.jobManager = jobs.NewManager(s.store, s.logger)
	if cfg.Jobs.PollInterval > 0 {
		s.jobManager.SetPollInterval(cfg.Jobs.PollInterval)
	}

	analyzer, err := s.buildAnalyzer(cfg)
	if err != nil {
		_ = s.shutdown()
		return err
	}

	s.engine = chunked.NewEngine(s.store, extract.NewFileGateway(), analyzer, chunked.Config{
		AnalyzeBatchSize: cfg.Engine.AnalyzeBatchSize,
		ExtractBatchSize: cfg.Engine.ExtractBatchSize,
		ExtractFanOut:    cfg.Engine.ExtractFanOut,
	}, s.logger)

	// Hot-reload the model gateway when the config file changes, so an
	// operator can rotate keys or switch models without a restart.
	s.configMgr.OnChange(func(c *config.Config) {
		gw, err := s.buildAnalyzer(c)
		if err != nil {
			s.logger.Error("config reload: keeping previous analysis gateway", "error", err)
			return
		}
		s.engine.SetAnalyzer(gw)
		s.logger.Info("config reloaded, analysis gateway rebuilt", "model", c.ResolvedAnalysis().Model)
	})

	// Background runner for maintenance work
	s.runner = jobs.NewRunner(1, 16, s.logger, nil)
	s.runner.Start(ctx)
	go s.sweepStuckJobs(ctx, cfg.Jobs.StuckThreshold)

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:      s.store,
		JobManager: s.jobManager,
		Engine:     s.engine,
		Runner:     s.runner,
		Home:       s.home,
		Logger:     s.logger,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildAnalyzer creates the OpenAI gateway from config. A missing API
// key is not fatal: the engine falls back to extraction plus local
// consolidation, which keeps tests and offline use working.
func (s *Server) buildAnalyzer(cfg *config.Config) (analysis.Gateway, error) {
	if s.analyzerOverride != nil {
		return s.analyzerOverride, nil
	}

	ac := cfg.ResolvedAnalysis()
	if ac.APIKey == "" {
		s.logger.Warn("no analysis API key configured, running without model analysis")
		return nil, nil
	}

	gw, err := analysis.NewOpenAIGateway(analysis.Options{
		Model:          ac.Model,
		APIKey:         ac.APIKey,
		BaseURL:        ac.BaseURL,
		RequestTimeout: ac.RequestTimeout,
		MaxRetries:     ac.MaxRetries,
		RetryDelay:     ac.RetryDelay,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create analysis gateway: %w", err)
	}
	return gw, nil
}

// sweepStuckJobs periodically submits a task that reports jobs stuck in
// the running state. The sweep only logs; marking jobs failed is an
// operator decision made through the cleanup endpoint.
func (s *Server) sweepStuckJobs(ctx context.Context, threshold time.Duration) {
	if threshold <= 0 {
		return
	}
	ticker := time.NewTicker(stuckSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.runner.Submit(jobs.Task{
			Name: "stuck-job-sweep",
			Run: func(ctx context.Context) error {
				stuck, err := s.jobManager.FindStuck(ctx, threshold)
				if err != nil {
					return err
				}
				for _, j := range stuck {
					s.logger.Warn("job appears stuck",
						"job_id", j.ID,
						"case_id", j.CaseID,
						"updated_at", j.UpdatedAt)
				}
				return nil
			},
		})
	}
}

// shutdown performs graceful shutdown of the HTTP server, the runner
// and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.runner != nil {
		s.runner.Stop()
	}

	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
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

// Store returns the record store. Nil before Start.
func (s *Server) Store() store.Store {
	return s.store
}

// JobManager returns the job manager. Nil before Start.
func (s *Server) JobManager() *jobs.Manager {
	return s.jobManager
}

// Engine returns the chunked analysis engine. Nil before Start.
func (s *Server) Engine() *chunked.Engine {
	return s.engine
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and engine are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.jobManager == nil || s.engine == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
