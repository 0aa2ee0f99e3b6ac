// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/correlation"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/passkey/sqlite"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// Server is the passkey authentication server: the ceremony API plus
// health, metrics and rate limiting around it.
type Server struct {
	config *config.Config
	logger *slog.Logger

	coordinator *passkey.Coordinator
	users       passkey.UserStore
	challenges  passkey.ChallengeStore
	sqliteStore *sqlite.Store

	httpServer    *http.Server
	metricsServer *http.Server
	limiter       *ratelimit.Limiter

	healthChecker    *health.Checker
	metricsCollector *metrics.ResourceCollector

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	logger := setupLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}

	if err := s.initializeStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := s.initializeCoordinator(); err != nil {
		cancel()
		s.closeStorage()
		return nil, fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	s.initializeHealth()

	return s, nil
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text", "console":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" {
			if setting.Value != "" && setting.Value != "devel" {
				return setting.Value
			}
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}

// initializeStorage creates the user and challenge stores from the
// configured backend
func (s *Server) initializeStorage() error {
	ttl := s.config.RelyingParty.ChallengeTTL

	switch s.config.Storage.Backend {
	case "sqlite":
		store, err := sqlite.Open(s.config.Storage.Path,
			sqlite.WithChallengeTTL(ttl),
			sqlite.WithLogger(s.logger.With("component", "sqlite")))
		if err != nil {
			return err
		}
		s.sqliteStore = store
		s.users = store.Users()
		s.challenges = store.Challenges()
		s.logger.Info("SQLite storage initialized", "path", s.config.Storage.Path)

	default:
		s.users = passkey.NewMemoryUserStore()
		s.challenges = passkey.NewMemoryChallengeStoreWithTTL(ttl)
		s.logger.Info("In-memory storage initialized")
	}

	return nil
}

// initializeCoordinator creates the ceremony coordinator
func (s *Server) initializeCoordinator() error {
	tokens, err := s.config.Token.CreateTokenGenerator()
	if err != nil {
		return err
	}

	coordinator, err := passkey.NewCoordinator(passkey.CoordinatorParams{
		Config:         &s.config.RelyingParty,
		UserStore:      s.users,
		ChallengeStore: s.challenges,
		TokenGenerator: tokens,
		Logger:         s.logger.With("component", "coordinator"),
	})
	if err != nil {
		return err
	}
	s.coordinator = coordinator

	s.logger.Info("Coordinator initialized",
		"rp_id", s.config.RelyingParty.RPID,
		"origins", s.config.RelyingParty.RPOrigins,
		"tokens", tokens != nil)
	return nil
}

// initializeHealth creates and configures the health checker
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()

	// Storage responsiveness check
	s.healthChecker.RegisterCheck("storage", func(ctx context.Context) health.CheckResult {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		_, err := s.users.List(checkCtx)
		latency := time.Since(start)
		if err != nil {
			return health.CheckResult{
				Name:    "storage",
				Status:  health.StatusUnhealthy,
				Message: "Storage backend is not responding",
				Error:   err.Error(),
				Latency: latency,
			}
		}
		return health.CheckResult{
			Name:    "storage",
			Status:  health.StatusHealthy,
			Message: "Storage backend is responding",
			Latency: latency,
		}
	})
}

// Start starts the HTTP server and the supporting workers
func (s *Server) Start() error {
	s.logger.Info("Starting passkey server...", "version", getBuildVersion())

	if s.config.Metrics.Enabled {
		s.initializeMetrics()
	}

	if s.config.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.config.RateLimit.RequestsPerMin,
			Burst:             s.config.RateLimit.Burst,
		})
	}

	s.wg.Add(1)
	go s.startHTTP()

	if s.config.Metrics.Enabled && s.config.Metrics.Port != 0 && s.config.Metrics.Port != s.config.Server.Port {
		s.wg.Add(1)
		go s.startMetrics()
	}

	s.wg.Add(1)
	go s.challengeJanitor()

	s.healthChecker.MarkStarted()
	s.logger.Info("Server started", "address", s.listenAddr())
	return nil
}

// listenAddr returns the main listen address
func (s *Server) listenAddr() string {
	return fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
}

// router builds the main HTTP router
func (s *Server) router() chi.Router {
	handler := passkeyhttp.NewHandler(s.coordinator, s.users).
		WithLogger(s.logger.With("component", "http"))

	r := chi.NewRouter()
	r.Use(correlation.Middleware)
	r.Use(s.requestLogger)
	if s.config.Metrics.Enabled {
		r.Use(metrics.HTTPMiddleware)
	}

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}
		passkeyhttp.MountChi(r, handler)
	})

	if s.config.Health.Enabled {
		r.Get("/healthz", s.handleLiveness)
		r.Get("/readyz", s.handleReadiness)
		r.Get("/startupz", s.handleStartup)
	}

	// Metrics on the main listener unless a dedicated port is configured
	if s.config.Metrics.Enabled && (s.config.Metrics.Port == 0 || s.config.Metrics.Port == s.config.Server.Port) {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	return r
}

// startHTTP runs the main HTTP server
func (s *Server) startHTTP() {
	defer s.wg.Done()

	s.httpServer = &http.Server{
		Addr:              s.listenAddr(),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	var err error
	if s.config.TLS.Enabled {
		tlsConfig, tlsErr := s.config.TLS.LoadTLSConfig()
		if tlsErr != nil {
			s.logger.Error("Failed to load TLS configuration", slog.Any("error", tlsErr))
			return
		}
		s.httpServer.TLSConfig = tlsConfig
		s.logger.Info("Starting HTTPS server", "address", s.httpServer.Addr)
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("Starting HTTP server", "address", s.httpServer.Addr)
		err = s.httpServer.ListenAndServe()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server error", slog.Any("error", err))
	}
}

// initializeMetrics initializes the metrics subsystem
func (s *Server) initializeMetrics() {
	metrics.Enable()
	s.metricsCollector = metrics.StartResourceCollector(s.ctx, 30*time.Second)
	s.logger.Info("Metrics initialized", "path", s.config.Metrics.Path)
}

// startMetrics runs the dedicated Prometheus metrics server
func (s *Server) startMetrics() {
	defer s.wg.Done()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Metrics.Port)

	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	s.logger.Info("Starting metrics server", "address", addr, "path", s.config.Metrics.Path)

	if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Metrics server error", slog.Any("error", err))
	}
}

// challengeJanitor periodically removes expired challenges and refreshes
// the population gauges.
func (s *Server) challengeJanitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepChallenges()
			if s.config.Metrics.Enabled {
				s.refreshGauges()
			}
		}
	}
}

// sweepChallenges drops expired challenges from whichever store is in use
func (s *Server) sweepChallenges() {
	switch store := s.challenges.(type) {
	case *passkey.MemoryChallengeStore:
		if n := store.Cleanup(); n > 0 {
			s.logger.Debug("removed expired challenges", "count", n)
		}
		if s.config.Metrics.Enabled {
			metrics.SetChallengesActive(float64(store.Count()))
		}
	case interface {
		Cleanup(ctx context.Context) (int64, error)
	}:
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		if _, err := store.Cleanup(ctx); err != nil {
			s.logger.Warn("challenge cleanup failed", slog.Any("error", err))
		}
		cancel()
	}
}

// refreshGauges updates the user and passkey population gauges
func (s *Server) refreshGauges() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh population gauges", slog.Any("error", err))
		return
	}
	passkeys := 0
	for _, user := range users {
		passkeys += len(user.Passkeys)
	}
	metrics.SetUsersTotal(float64(len(users)))
	metrics.SetPasskeysTotal(float64(passkeys))
}

// requestLogger logs each request with its duration
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"correlation_id", correlation.GetCorrelationID(r.Context()),
			"duration", time.Since(start))
	})
}

// handleLiveness reports process liveness
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	result := s.healthChecker.Live(r.Context())
	writeHealth(w, http.StatusOK, result)
}

// handleReadiness reports readiness of the server and its dependencies
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	results := s.healthChecker.Ready(r.Context())
	status := http.StatusOK
	if health.AggregateStatus(results) != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeHealth(w, status, results)
}

// handleStartup reports whether startup has completed
func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	result := s.healthChecker.Startup(r.Context())
	status := http.StatusOK
	if result.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeHealth(w, status, result)
}

func writeHealth(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("Failed to encode health response", slog.Any("error", err))
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	// Signal the workers
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", slog.Any("error", err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down metrics server", slog.Any("error", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All workers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.closeStorage()

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")
	return nil
}

// closeStorage closes the storage backend if it holds resources
func (s *Server) closeStorage() {
	if s.sqliteStore != nil {
		if err := s.sqliteStore.Close(); err != nil {
			s.logger.Error("Error closing storage", slog.Any("error", err))
		}
	}
}

// WaitForShutdown blocks until the server is shut down
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Coordinator returns the ceremony coordinator
func (s *Server) Coordinator() *passkey.Coordinator {
	return s.coordinator
}

// HealthChecker returns the health checker
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// SetupSignalHandler sets up signal handling for graceful shutdown
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
