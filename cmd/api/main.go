// Package main is the entry point for the chat gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-gateway/internal/auth"
	"github.com/capitalize-ai/chat-gateway/internal/config"
	"github.com/capitalize-ai/chat-gateway/internal/gateway"
	"github.com/capitalize-ai/chat-gateway/internal/handler"
	"github.com/capitalize-ai/chat-gateway/internal/history"
	"github.com/capitalize-ai/chat-gateway/internal/llm"
	"github.com/capitalize-ai/chat-gateway/internal/middleware"
	"github.com/capitalize-ai/chat-gateway/internal/model"
	natsclient "github.com/capitalize-ai/chat-gateway/internal/nats"
	"github.com/capitalize-ai/chat-gateway/internal/prompt"
	"github.com/capitalize-ai/chat-gateway/internal/ratelimit"
	"github.com/capitalize-ai/chat-gateway/internal/stream"
	"github.com/capitalize-ai/chat-gateway/internal/telemetry"
	"github.com/capitalize-ai/chat-gateway/pkg/logger"
	"github.com/capitalize-ai/chat-gateway/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat gateway",
		zap.String("history_store", cfg.HistoryStore),
		zap.String("ai_backend", cfg.AIBackend),
		zap.String("telemetry_sink", cfg.TelemetrySink),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	if cfg.SessionJWTSecret == "" {
		log.Warn("SESSION_JWT_SECRET is not set; session tokens cannot be verified")
	}
	resolver := auth.NewResolver(
		auth.NewSessionTokens(cfg.SessionJWTSecret, cfg.SessionCookieName),
		auth.NewAdminTokens(cfg.AdminJWTSecret, cfg.AdminHeaderName),
	)

	var supabaseClient *supabase.Client
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		supabaseClient, err = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
		if err != nil {
			log.Fatal("failed to create Supabase client", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
	}

	store, err := history.NewStore(history.StoreType(cfg.HistoryStore),
		history.WithMaxEntries(cfg.MaxHistory),
		history.WithSupabaseClient(supabaseClient),
		history.WithRedisClient(redisClient),
		history.WithRedisTTL(cfg.RedisHistoryTTL),
	)
	if err != nil {
		log.Fatal("failed to create history store", zap.Error(err))
	}
	defer store.Close()

	backend, err := llm.NewBackend(llm.Config{
		Provider:        llm.Provider(cfg.AIBackend),
		Timeout:         cfg.AIBackendTimeout,
		URL:             cfg.AIBackendURL,
		Token:           cfg.AIBackendToken,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
	})
	if err != nil {
		log.Fatal("failed to create AI backend", zap.Error(err))
	}

	// NATS is only dialled when telemetry is published there.
	var (
		natsClient *natsclient.Client
		streams    *natsclient.StreamManager
		natsHealth handler.ConnChecker
	)
	if telemetry.SinkType(cfg.TelemetrySink) == telemetry.SinkNATS {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streams = natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure telemetry stream", zap.Error(err))
		}
		natsHealth = natsClient
	}

	sink, err := telemetry.NewSink(telemetry.SinkType(cfg.TelemetrySink), telemetry.SinkDeps{
		Log:      log,
		Streams:  streams,
		Supabase: supabaseClient,
	})
	if err != nil {
		log.Fatal("failed to create telemetry sink", zap.Error(err))
	}
	var recorder telemetry.Recorder = telemetry.Discard
	var telemetryLogger *telemetry.Logger
	if sink != nil {
		telemetryLogger = telemetry.NewLogger(sink, cfg.TelemetryBuffer, log)
		recorder = telemetryLogger
	}

	var promptOpts []prompt.Option
	if cfg.SystemPrompt != "" {
		promptOpts = append(promptOpts, prompt.WithSystemPrompt(cfg.SystemPrompt))
	}

	gw, err := gateway.New(gateway.Config{
		Auth: resolver,
		Limiter: ratelimit.New([]ratelimit.Rule{
			{Scope: model.ScopeUser, Limit: cfg.UserRateLimit, Window: cfg.UserRateWindow},
			{Scope: model.ScopeSession, Limit: cfg.SessionRateLimit, Window: cfg.SessionRateWindow},
		}),
		Store:       store,
		Prompts:     prompt.NewBuilder(cfg.MaxRequestHistory, promptOpts...),
		Backend:     backend,
		Broadcaster: stream.NewBroadcaster(cfg.StreamTokenDelay),
		Telemetry:   recorder,
		Logger:      log,
		MaxHistory:  cfg.MaxHistory,
	})
	if err != nil {
		log.Fatal("failed to create gateway", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(gw, natsHealth)
	chatHandler := handler.NewChatHandler(gw, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.IPFloodGuard(cfg.IPRateLimitRequests, cfg.IPRateLimitWindow))
		r.Post("/chat", chatHandler.Send)
		r.Get("/chat", chatHandler.History)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	if telemetryLogger != nil {
		if err := telemetryLogger.Close(shutdownCtx); err != nil {
			log.Warn("telemetry queue not drained", zap.Error(err))
		}
	}

	log.Info("server stopped")
}
