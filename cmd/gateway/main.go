// The gateway exposes the turn API without hosting a worker: it dials
// Temporal, starts turn workflows, and reports their state. Approval
// decisions are served by the worker process, which owns the pending
// negotiation table.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/config"
	"github.com/meridianhq/accountintel/internal/health"
	"github.com/meridianhq/accountintel/internal/httpapi"
	temporallog "github.com/meridianhq/accountintel/internal/temporal"
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

	var temporalClient client.Client
	for attempt := 1; ; attempt++ {
		temporalClient, err = client.Dial(client.Options{
			HostPort: cfg.Temporal.HostPort,
			Logger:   temporallog.NewZapAdapter(logger),
		})
		if err == nil {
			break
		}
		if attempt >= 30 {
			logger.Fatal("Temporal unreachable", zap.String("host", cfg.Temporal.HostPort), zap.Error(err))
		}
		logger.Warn("Temporal not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	defer temporalClient.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	healthMgr := health.NewManager(logger)
	healthMgr.RegisterChecker(health.NewCustomChecker("temporal", true, 3*time.Second,
		func(ctx context.Context) health.CheckResult {
			if _, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
				return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		}))
	healthMgr.RegisterRoutes(mux)

	httpapi.NewTurnHandler(temporalClient, cfg.Temporal.TaskQueue, logger, cfg.HTTP.AuthToken).RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("Gateway listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Gateway server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("Gateway stopped")
}
