// Command server is the entry point for the VPN control-plane core. It
// wires configuration, storage, and every domain component into an HTTP
// server with pgxpool tuning and signal-aware graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/config"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/ahmadjamalnasir/VPN-backend/internal/httpapi"
	"github.com/ahmadjamalnasir/VPN-backend/internal/identity"
	"github.com/ahmadjamalnasir/VPN-backend/internal/kv"
	"github.com/ahmadjamalnasir/VPN-backend/internal/metrics"
	"github.com/ahmadjamalnasir/VPN-backend/internal/notify"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	"github.com/ahmadjamalnasir/VPN-backend/internal/protection"
	"github.com/ahmadjamalnasir/VPN-backend/internal/registry"
	"github.com/ahmadjamalnasir/VPN-backend/internal/scheduler"
	"github.com/ahmadjamalnasir/VPN-backend/internal/session"
	"github.com/ahmadjamalnasir/VPN-backend/internal/store"
	"github.com/ahmadjamalnasir/VPN-backend/internal/verification"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	pool, err := store.NewPool(ctx, cfg.DatabaseURL, store.DefaultOptions())
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connection established")

	redisOptions, err := redis.ParseURL(cfg.KVURL)
	if err != nil {
		logger.Error("unable to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("unable to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("redis connection established")
	kvStore := kv.NewRedisStore(redisClient)

	publisher, err := notify.NewAMQPPublisher(cfg.RabbitMQURL, "vpncore.notifications", cfg.NotifyQueueName, logger)
	if err != nil {
		logger.Error("unable to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("rabbitmq producer connected")

	identityStore := identity.New(identity.NewPostgresRepository(pool), 0)
	entitlementEngine := entitlement.New(entitlement.NewPostgresRepository(pool))
	serverRegistry := registry.New(registry.NewPostgresRepository(pool))
	sessionManager := session.New(session.NewPostgresRepository(pool), identityStore, entitlementEngine, serverRegistry, kvStore)
	verificationTTL := time.Duration(cfg.OTPTTLMinutes) * time.Minute
	verificationService := verification.New(verification.NewPostgresRepository(pool), publisher, verificationTTL)
	protectionLayer := protection.New(kvStore, cfg, logger)
	tokenIssuer := authtoken.New(cfg.JWTSecret, cfg.AccessTokenTTL())

	pushRegistry := metrics.NewRegistry()
	operatorHub := metrics.NewOperatorHub()
	go metrics.RunOperatorHub(ctx, operatorHub, aggregateSource{
		registry: serverRegistry,
		identity: identityStore,
		sessions: sessionManager,
	}, cfg.MetricsPushInterval())

	jobs := scheduler.NewJobs(serverRegistry, sessionManager, cfg.SessionStaleThreshold(), logger)
	cron := scheduler.NewScheduler(jobs, logger, scheduler.Schedules{
		ReconcileLoadSchedule:     "@every 30s",
		StaleSessionSweepSchedule: "@every 1m",
	})
	cron.Start()

	handlers := httpapi.NewHandlers(
		cfg, identityStore, entitlementEngine, serverRegistry, sessionManager,
		verificationService, protectionLayer, tokenIssuer, pushRegistry, operatorHub,
	)
	router := httpapi.NewRouter(handlers)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	cronStopCtx := cron.Stop()
	<-cronStopCtx.Done()

	logger.Info("server stopped")
}

// aggregateSource samples the operator-facing counters RunOperatorHub
// fans out: total subscribers, active sessions, and active servers.
type aggregateSource struct {
	registry *registry.Registry
	identity *identity.Store
	sessions *session.Manager
}

func (a aggregateSource) SampleAggregate(ctx context.Context) (metrics.AggregateSnapshot, error) {
	servers, err := a.registry.List(ctx, registry.Filter{Status: registry.StatusActive})
	if err != nil {
		return metrics.AggregateSnapshot{}, err
	}
	activeServers := len(servers)
	observability.SetActiveServers(activeServers)

	totalSubscribers, err := a.identity.CountActive(ctx)
	if err != nil {
		return metrics.AggregateSnapshot{}, err
	}
	activeSessions, err := a.sessions.CountActive(ctx)
	if err != nil {
		return metrics.AggregateSnapshot{}, err
	}

	return metrics.AggregateSnapshot{
		Timestamp:        time.Now(),
		TotalSubscribers: totalSubscribers,
		ActiveSessions:   activeSessions,
		ActiveServers:    activeServers,
	}, nil
}
