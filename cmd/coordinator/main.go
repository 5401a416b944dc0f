package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/tripcoord/internal/auth"
	"github.com/example/tripcoord/internal/config"
	ratelimit "github.com/example/tripcoord/internal/http/middleware"
	"github.com/example/tripcoord/internal/roster/assignment"
	"github.com/example/tripcoord/internal/roster/domain"
	"github.com/example/tripcoord/internal/roster/handler"
	"github.com/example/tripcoord/internal/roster/repository"
	"github.com/example/tripcoord/internal/roster/review"
	"github.com/example/tripcoord/internal/roster/service"
	"github.com/example/tripcoord/internal/webhook"
	"github.com/example/tripcoord/pkg/events"
	"github.com/example/tripcoord/pkg/observability"
)

const serviceName = "coordinator-console"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		observability.SetupLogger(serviceName, "info").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger(serviceName, cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	build := observability.Build{Service: serviceName, Version: version, InstanceID: cfg.InstanceID}
	shutdown, err := observability.SetupTracer(ctx, build)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName)); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	gateway := webhook.NewClient(webhook.Config{
		BaseURL:      cfg.WebhookBaseURL,
		APIKey:       cfg.WebhookAPIKey,
		Timeout:      cfg.WebhookTimeout,
		RetryCount:   cfg.WebhookRetry,
		RetryMaxWait: cfg.WebhookRetryMaxWait,
	}, logger.Named("webhook"))

	guard, idem, limiter := buildSharedState(redisClient, cfg)

	sessions := service.NewSessions(service.Deps{
		Gateway:     gateway,
		Guard:       guard,
		Events:      events.NewPublisher(natsConn, cfg.EventsSubject),
		Clock:       domain.SystemClock{},
		Notes:       review.NewStore(),
		Idempotency: idem,
		Logger:      logger,
		InflightTTL: cfg.InflightTTL,
		Location:    cfg.Location,
	})

	if natsConn != nil {
		sub, err := events.Subscribe(ctx, natsConn, cfg.EventsSubject, logger.Named("events"), sessions.HandleEvent)
		if err != nil {
			logger.Warn("roster events disabled", zap.Error(err))
		} else {
			defer sub.Unsubscribe() //nolint:errcheck
		}
	} else {
		logger.Warn("roster events disabled", zap.Bool("nats", false))
	}

	console := handler.NewHTTP(sessions, auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL), cfg.JWTSecret, limiter, logger.Named("http"))

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter(readinessChecks(redisClient, natsConn)...))
	r.Mount("/", console.Router())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("coordinator console listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildSharedState(redisClient *redis.Client, cfg config.Config) (assignment.Guard, domain.IdempotencyRepository, *ratelimit.RateLimiter) {
	if redisClient == nil {
		return assignment.NewMemoryGuard(), repository.NewMemoryIdempotencyRepo(), nil
	}
	return assignment.NewRedisGuard(redisClient, ""),
		repository.NewRedisIdempotencyRepo(redisClient, "", 24*time.Hour),
		ratelimit.NewRateLimiter(redisClient, ratelimit.WriteLimit{Requests: cfg.WritesPerMinute, Window: time.Minute})
}

func readinessChecks(redisClient *redis.Client, natsConn *nats.Conn) []observability.Check {
	var checks []observability.Check
	if redisClient != nil {
		checks = append(checks, observability.Check{Name: "redis", Run: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if natsConn != nil {
		checks = append(checks, observability.Check{Name: "nats", Run: func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", natsConn.Status())
			}
			return nil
		}})
	}
	return checks
}
