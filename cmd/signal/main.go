package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"pairlink/internal/core/services"
	httphandlers "pairlink/internal/handlers/http"
	"pairlink/internal/infrastructure/middleware"
	"pairlink/internal/infrastructure/monitoring"
	repositories "pairlink/internal/infrastructure/repositories"
	"pairlink/internal/infrastructure/signal"
	"pairlink/internal/infrastructure/turn"
	"pairlink/pkg/config"
	"pairlink/pkg/logger"
	"pairlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pairlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "pairlink",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory (Redis with memory fallback)
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	records := repoFactory.CreateSessionRecordRepository()

	// TURN credential issuer is optional; without one, connectivity configs
	// carry the static TURN servers or degrade to STUN-only.
	var turnProvider *turn.CredentialClient
	if cfg.ICE.CredentialEndpoint != "" {
		turnProvider = turn.NewCredentialClient(
			cfg.ICE.CredentialEndpoint,
			cfg.ICE.CredentialAPIKey,
			cfg.ICE.CredentialTimeout,
			log,
		)
	}

	var staticTURN []webrtc.ICEServer
	for _, s := range cfg.ICE.StaticTURN {
		staticTURN = append(staticTURN, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	configOpts := services.ConfigProviderOptions{
		STUNURLs:   cfg.ICE.STUNServers,
		StaticTURN: staticTURN,
		PoolSize:   cfg.ICE.CandidatePoolSize,
		CacheTTL:   cfg.ICE.ConfigCacheTTL,
	}
	var configProvider *services.ConfigProviderService
	if turnProvider != nil {
		configProvider = services.NewConfigProviderService(turnProvider, configOpts, log)
	} else {
		configProvider = services.NewConfigProviderService(nil, configOpts, log)
	}

	// Connection registry and messenger
	registry := signal.NewRegistry()
	messenger := signal.NewMessenger(registry)

	// Session store and matchmaker
	sessionService := services.NewSessionService(services.SessionConfig{
		GraceTimeout:         cfg.Session.GraceTimeout,
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		ConsentExpiry:        cfg.Session.ConsentExpiry,
	}, records, messenger, log)

	matchService := services.NewMatchService(sessionService, configProvider, log)

	// Monitoring
	collector := monitoring.NewPrometheusCollector()
	sessionService.SetEvents(collector)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(records, 2*time.Second)

	// Signaling router and WebSocket server
	router := signal.NewRouter(registry, messenger, sessionService, matchService, configProvider, records, collector, log)

	wsOpts := signal.DefaultServerOptions()
	wsOpts.PingInterval = cfg.Signal.PingInterval
	wsOpts.ReadTimeout = cfg.Signal.PongTimeout
	wsOpts.WriteTimeout = cfg.Signal.WriteTimeout
	wsOpts.MaxMessageBytes = cfg.Signal.MaxMessageBytes
	if cfg.RateLimiting.Enabled {
		wsOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsOpts.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signal.NewWebSocketServer(registry, router, wsOpts, log)

	// Background workers
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	reaper := services.NewReaperService(services.ReaperConfig{
		SweepInterval:       cfg.Reaper.SweepInterval,
		InactivityThreshold: cfg.Reaper.InactivityThreshold,
	}, sessionService, log)
	go reaper.Start(rootCtx)

	if cfg.Monitoring.PrometheusEnabled {
		go sampleGauges(rootCtx, cfg.Monitoring.SampleInterval, collector, sessionService, matchService, registry)
	}

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.ErrorHandlerMiddleware(log))
	engine.Use(middleware.TracingMiddleware())
	engine.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	statusHandler := httphandlers.NewStatusHandler(sessionService, matchService, configProvider, records, healthChecker)
	statusHandler.SetupRoutes(engine)

	engine.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting pairlink signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down pairlink signaling server...")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("pairlink signaling server stopped")
}

// sampleGauges refreshes the gauges that reflect live counts rather than
// discrete events.
func sampleGauges(
	ctx context.Context,
	interval time.Duration,
	collector *monitoring.PrometheusCollector,
	sessions *services.SessionService,
	matchmaker *services.MatchService,
	registry *signal.Registry,
) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.SetSessionsActive(sessions.ActiveCount())
			collector.SetConnectionsActive(registry.Count())
			for chain, depth := range matchmaker.QueueDepths() {
				collector.SetQueueDepth(string(chain), depth)
			}
		}
	}
}
