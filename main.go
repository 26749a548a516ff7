package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	cfg "github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/health"
	"github.com/farmwise/farmwise/go/orchestrator/internal/llm"
	"github.com/farmwise/farmwise/go/orchestrator/internal/policy"
	"github.com/farmwise/farmwise/go/orchestrator/internal/registry"
	"github.com/farmwise/farmwise/go/orchestrator/internal/schedules"
	"github.com/farmwise/farmwise/go/orchestrator/internal/temporal"
	"github.com/farmwise/farmwise/go/orchestrator/internal/tracing"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
	"github.com/farmwise/farmwise/go/orchestrator/internal/whatsapp"
)

func main() {
	features, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.NewLogger(features)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ------------------------------------------------------------------
	// Bring up health endpoints early so they answer while Temporal and
	// the database are still starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	healthSrv := health.StartHealthServer(hm, features.Observability.HealthPort, logger)

	if features.Observability.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.MetricsPort(features.Observability.Metrics.Port))
			logger.Info("Metrics server listening", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if shutdownTracing, err := tracing.Initialize(features.Tracing, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
	}

	store, err := db.NewClient(features.Postgres, db.Options{}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database client", zap.Error(err))
	}
	defer store.Close()
	if features.Postgres.Driver == "sqlite3" {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(store.Wrapper()))

	var policyEngine *policy.Engine
	if features.Policy.Enabled {
		policyEngine, err = policy.NewEngine(features.Policy, features.Environment, logger)
		if err != nil {
			logger.Fatal("Failed to initialize policy engine", zap.Error(err))
		}
	}

	acts := activities.NewActivities(activities.Deps{
		Store:    store,
		WhatsApp: whatsapp.NewClient(features.WhatsApp, logger),
		Weather:  weather.NewClient(features.Weather, logger),
		Writer:   llm.NewClient(features.LLM, logger),
		Policy:   policyOrNil(policyEngine),
	}, logger)

	tc, err := temporal.Dial(ctx, features.Temporal, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tc.Close()
	_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tc))
	if err := hm.Start(ctx); err != nil {
		logger.Warn("Health checks not started", zap.Error(err))
	}

	reconciler := schedules.NewManager(temporal.NewEngine(tc, logger), logger)
	if features.Schedules.ReconcileOnStart {
		report, err := reconciler.Reconcile(ctx, schedules.Desired(features.Schedules))
		if err != nil {
			logger.Fatal("Schedule reconciliation failed", zap.Error(err))
		}
		logger.Info("Schedules reconciled",
			zap.Strings("created", report.Created),
			zap.Strings("updated", report.Updated),
			zap.Strings("unchanged", report.Unchanged),
		)
	}

	watcher := watchConfig(ctx, features, reconciler, policyEngine, logger)
	if watcher != nil {
		defer watcher.Stop()
	}

	reg := registry.NewFarmwiseRegistry(&registry.RegistryConfig{
		EnablePestAlert: features.Schedules.PestAlert.Enabled,
	}, logger, acts)

	var workers []worker.Worker
	for _, queue := range reg.TaskQueues() {
		wk, err := startWorker(tc, reg, queue, logger)
		if err != nil {
			logger.Fatal("Failed to start worker", zap.String("queue", queue), zap.Error(err))
		}
		workers = append(workers, wk)
	}
	logger.Info("Farmwise worker running", zap.Strings("task_queues", reg.TaskQueues()))

	<-ctx.Done()
	logger.Info("Shutting down worker")

	var wg sync.WaitGroup
	for _, wk := range workers {
		wg.Add(1)
		go func(wk worker.Worker) {
			defer wg.Done()
			wk.Stop()
		}(wk)
	}
	wg.Wait()

	_ = hm.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(sctx)
}

func startWorker(tc client.Client, reg registry.Registry, queue string, logger *zap.Logger) (worker.Worker, error) {
	wk := worker.New(tc, queue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	if err := reg.RegisterWorkflows(queue, wk); err != nil {
		return nil, err
	}
	if err := reg.RegisterActivities(queue, wk); err != nil {
		return nil, err
	}
	if err := wk.Start(); err != nil {
		return nil, err
	}
	logger.Info("Temporal worker started", zap.String("queue", queue))
	return wk, nil
}

// watchConfig re-reconciles schedules when features.yaml changes and reloads
// policies when a .rego file changes.
func watchConfig(ctx context.Context, features *cfg.Features, reconciler *schedules.Manager, engine *policy.Engine, logger *zap.Logger) *cfg.Watcher {
	path := cfg.Path()
	if _, err := os.Stat(path); err != nil {
		logger.Info("Config file not found, hot reload disabled", zap.String("path", path))
		return nil
	}
	policyDir := ""
	if engine != nil && features.Policy.Path != "" {
		policyDir = features.Policy.Path
		if filepath.Ext(policyDir) != "" {
			policyDir = filepath.Dir(policyDir)
		}
	}
	w, err := cfg.NewWatcher(path, policyDir, logger)
	if err != nil {
		logger.Warn("Config watcher init failed", zap.Error(err))
		return nil
	}
	w.OnChange(func(f *cfg.Features) error {
		report, err := reconciler.Reconcile(ctx, schedules.Desired(f.Schedules))
		if err != nil {
			return fmt.Errorf("reconcile schedules: %w", err)
		}
		logger.Info("Schedules reconciled after config change",
			zap.Strings("created", report.Created),
			zap.Strings("updated", report.Updated),
		)
		return nil
	})
	if engine != nil {
		w.OnPolicyChange(engine.LoadPolicies)
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("Config watcher start failed", zap.Error(err))
		return nil
	}
	return w
}

// policyOrNil keeps a nil engine from becoming a non-nil interface.
func policyOrNil(e *policy.Engine) activities.PolicyEvaluator {
	if e == nil {
		return nil
	}
	return e
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
