package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/cmd/gateway/internal/middleware"
	"github.com/farmwise/farmwise/go/orchestrator/internal/auth"
	cfg "github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/health"
	"github.com/farmwise/farmwise/go/orchestrator/internal/httpapi"
	"github.com/farmwise/farmwise/go/orchestrator/internal/schedules"
	"github.com/farmwise/farmwise/go/orchestrator/internal/server"
	"github.com/farmwise/farmwise/go/orchestrator/internal/temporal"
	"github.com/farmwise/farmwise/go/orchestrator/internal/tracing"
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

	shutdownTracing, err := tracing.Initialize(features.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
	}

	conv, err := server.NewConversation(ctx, features, logger)
	if err != nil {
		logger.Fatal("Failed to initialize conversation stack", zap.Error(err))
	}
	defer conv.Close()

	tc, err := temporal.Dial(ctx, features.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tc.Close()
	engine := temporal.NewEngine(tc, logger)

	hm := health.NewManager(logger)
	for _, c := range []health.Checker{
		health.NewRedisHealthChecker(conv.SessionRedis),
		health.NewDatabaseHealthChecker(conv.Store.Wrapper()),
		health.NewTemporalHealthChecker(tc),
	} {
		if err := hm.RegisterChecker(c); err != nil {
			logger.Warn("Failed to register health checker", zap.Error(err))
		}
	}
	hm.SetCheckInterval(15 * time.Second)
	if err := hm.Start(ctx); err != nil {
		logger.Warn("Health checks not started", zap.Error(err))
	}
	defer hm.Stop()

	if features.Auth.SkipAuth {
		if !features.IsDev() {
			logger.Fatal("auth.skip_auth is only allowed in the dev environment")
		}
		logger.Warn("Authentication is disabled")
	}
	authMW := auth.NewMiddleware(
		auth.NewAPIKeys(features.Auth.APIKeyHashes),
		auth.NewJWTManager(features.Auth.JWTSecret, features.Auth.TokenExpiry),
		features.Auth.SkipAuth,
		logger,
	).HTTPMiddleware
	rateLimiter := middleware.NewRateLimiter(conv.Redis, features.Environment, features.Gateway.RequestsPerMinute, logger).Middleware
	idempotency := middleware.NewIdempotencyMiddleware(conv.Redis, features.Environment, logger).Middleware
	tracingMW := middleware.NewTracingMiddleware(logger).Middleware

	protected := func(scope string) func(http.Handler) http.Handler {
		return func(h http.Handler) http.Handler {
			return tracingMW(authMW(rateLimiter(idempotency(auth.RequireScope(scope, h)))))
		}
	}

	mux := http.NewServeMux()

	httpapi.NewConversationHandler(conv.Router, conv.Registry, logger).
		RegisterRoutes(mux, protected(auth.ScopeConversationsWrite))

	workflowHandler := httpapi.NewWorkflowHandler(httpapi.WorkflowConfig{
		Starter:    engine,
		Contacts:   conv.Store,
		Reconciler: schedules.NewManager(engine, logger),
		Desired:    func() []schedules.Definition { return schedules.Desired(features.Schedules) },
		DemoMode:   features.CropCycle.DemoMode,
	}, logger)
	workflowHandler.RegisterRoutes(mux, protected(auth.ScopeWorkflowsWrite), protected(auth.ScopeSchedulesManage))

	streamMux := http.NewServeMux()
	httpapi.NewStreamingHandler(conv.Events, logger).RegisterRoutes(streamMux)
	mux.Handle("/stream/", tracingMW(authMW(auth.RequireScope(auth.ScopeStreamRead, streamMux))))

	webhookCtx, cancelWebhooks := context.WithCancel(context.Background())
	webhook := httpapi.NewWebhookHandler(webhookCtx, httpapi.WebhookConfig{
		Turns:       conv.Router,
		Messenger:   whatsapp.NewClient(features.WhatsApp, logger),
		Transcriber: conv.LLM,
		AppSecret:   features.WhatsApp.AppSecret,
		VerifyToken: features.WhatsApp.VerifyToken,
		Dedupe:      conv.Redis,
		Environment: features.Environment,
	}, logger)
	webhook.RegisterRoutes(mux)

	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	if features.Observability.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	port := features.Gateway.Port
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		port = p
	}
	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(port),
		Handler:     corsMiddleware(mux),
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE and invoke/stream responses are long lived.
		WriteTimeout: 0,
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		logger.Info("Gateway starting", zap.Int("port", port), zap.String("environment", features.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Gateway shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}

	// Let in-flight WhatsApp turns finish before their clients close.
	done := make(chan struct{})
	go func() {
		webhook.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		cancelWebhooks()
		<-done
	}
	cancelWebhooks()

	logger.Info("Gateway stopped")
}

// corsMiddleware adds CORS headers for browser clients of the API and streams.
func corsMiddleware(next http.Handler) http.Handler {
	const allowedHeaders = "Content-Type, Authorization, X-API-Key, Idempotency-Key, traceparent, tracestate, Cache-Control, Last-Event-ID"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/webhooks/") {
			next.ServeHTTP(w, r)
			return
		}
		methods := "GET, POST, OPTIONS"
		if strings.HasPrefix(r.URL.Path, "/stream/") {
			methods = "GET, OPTIONS"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
