package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/adapters"
	"github.com/meridianhq/accountintel/internal/config"
	"github.com/meridianhq/accountintel/internal/db"
	"github.com/meridianhq/accountintel/internal/health"
	"github.com/meridianhq/accountintel/internal/httpapi"
	"github.com/meridianhq/accountintel/internal/intents"
	"github.com/meridianhq/accountintel/internal/merge"
	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/registry"
	"github.com/meridianhq/accountintel/internal/session"
	"github.com/meridianhq/accountintel/internal/synthesis"
	temporallog "github.com/meridianhq/accountintel/internal/temporal"
	"github.com/meridianhq/accountintel/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Routing policy: file if configured, built-in defaults otherwise.
	table := policy.Default()
	if cfg.Orchestrator.PolicyFile != "" {
		table, err = policy.Load(cfg.Orchestrator.PolicyFile)
		if err != nil {
			logger.Fatal("Failed to load routing policy",
				zap.String("path", cfg.Orchestrator.PolicyFile), zap.Error(err))
		}
		logger.Info("Loaded routing policy", zap.String("path", cfg.Orchestrator.PolicyFile))
	}
	floor := cfg.Orchestrator.ConfidenceFloor
	if floor <= 0 {
		floor = merge.DefaultConfidenceFloor
	}
	workflows.Configure(table, floor, cfg.Orchestrator.MaxConcurrency, cfg.Orchestrator.ApprovalTimeout)

	// Conversation state in Redis.
	sessions, err := session.NewManager(cfg.Redis.Addr, cfg.Redis.Password, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	defer func() { _ = sessions.Close() }()

	// Turn audit storage. Optional: the worker still answers without it.
	var recorder *db.Recorder
	if cfg.Postgres.Host != "" {
		recorder, err = db.NewRecorder(cfg.Postgres.DSN(), logger)
		if err != nil {
			logger.Warn("Audit store unavailable, continuing without turn persistence", zap.Error(err))
			recorder = nil
		} else {
			defer func() { _ = recorder.Close() }()
		}
	}

	// One search adapter per knowledge source, all against the same backend.
	gleanCfg := adapters.GleanConfig{
		Endpoint:   cfg.Search.Endpoint,
		APIToken:   cfg.Search.APIToken,
		MaxResults: cfg.Search.MaxResults,
	}
	adapterRegistry := adapters.NewRegistry()
	for src, adapter := range adapters.NewGleanAdapters(gleanCfg, logger) {
		if err := adapterRegistry.Register(src, adapter); err != nil {
			logger.Fatal("Failed to register source adapter", zap.String("source", string(src)), zap.Error(err))
		}
	}

	acts := activities.NewActivities(activities.Deps{
		Classifier:       intents.NewClassifier(intents.DefaultAliases(), logger),
		Registry:         adapterRegistry,
		Sessions:         sessions,
		Synthesizer:      synthesis.NewHTTPSynthesizer(cfg.Synthesis.Endpoint, cfg.Synthesis.Timeout, logger),
		Recorder:         recorder,
		Documents:        adapters.NewGleanDocumentClient(gleanCfg, logger),
		AdapterTimeout:   cfg.Orchestrator.AdapterTimeout,
		AdapterRateLimit: cfg.Orchestrator.AdapterRateLimit,
		MaxResults:       cfg.Search.MaxResults,
		Logger:           logger,
	})

	// Admin HTTP: health, metrics, and the approvals API once Temporal is up.
	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.Handler())

	healthMgr := health.NewManager(logger)
	healthMgr.RegisterChecker(health.NewRedisChecker(sessions.Client()))
	if recorder != nil {
		healthMgr.RegisterChecker(health.NewPostgresChecker(recorder))
	}
	healthMgr.RegisterChecker(health.NewSearchChecker(cfg.Search.Endpoint))
	healthMgr.RegisterRoutes(httpMux)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	adminSrv := &http.Server{
		Addr:         httpAddr,
		Handler:      httpMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.String("addr", httpAddr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server exited", zap.Error(err))
		}
	}()

	// Temporal: wait for the endpoint, then dial with retry.
	hostPort := cfg.Temporal.HostPort
	for i := 1; i <= 60; i++ {
		conn, err := net.DialTimeout("tcp", hostPort, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", hostPort), zap.Int("attempt", i))
		time.Sleep(time.Second)
	}
	var temporalClient client.Client
	for attempt := 1; ; attempt++ {
		temporalClient, err = client.Dial(client.Options{
			HostPort: hostPort,
			Logger:   temporallog.NewZapAdapter(logger),
		})
		if err == nil {
			break
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt), zap.String("host", hostPort), zap.Error(err))
		time.Sleep(delay)
	}
	defer temporalClient.Close()

	// Turn and approval APIs ride on the admin mux.
	httpapi.NewTurnHandler(temporalClient, cfg.Temporal.TaskQueue, logger, cfg.HTTP.AuthToken).RegisterRoutes(httpMux)
	httpapi.NewApprovalHandler(temporalClient, acts, logger, cfg.HTTP.AuthToken).RegisterRoutes(httpMux)
	logger.Info("Turn and approvals APIs registered", zap.String("addr", httpAddr))

	wk := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Orchestrator.MaxConcurrency * 4,
	})
	reg := registry.NewTurnRegistry(acts, logger)
	reg.RegisterWorkflows(wk)
	reg.RegisterActivities(wk)

	go func() {
		logger.Info("Temporal worker started", zap.String("queue", cfg.Temporal.TaskQueue))
		if err := wk.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")
	wk.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin HTTP server shutdown", zap.Error(err))
	}
}
