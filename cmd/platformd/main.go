package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/app/migrate"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/authclient"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/httpx"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/ports"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/repository/postgres"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/runtime/docker"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/catalog"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/credential"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/events"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/service/provision"
	"github.com/hashir-ayaz/container-service-cloud-platform/internal/ws"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/config"
	"github.com/hashir-ayaz/container-service-cloud-platform/pkg/logger"
)

func main() {
	cfg := config.LoadPlatformConfig()
	log := logger.New("platformd", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	runtimeClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create container runtime client", "error", err)
		os.Exit(1)
	}
	defer runtimeClient.Close()
	if err := runtimeClient.Ping(ctx); err != nil {
		log.Warn("container runtime not reachable at startup", "error", err)
	}

	repo := postgres.New(pool)
	eventHub := ws.NewHub(cfg.EventBuffer)

	auth := authclient.New(cfg.AuthServiceURL, cfg.AuthJWTSecret, cfg.AuthTimeout, log)
	allocator := ports.NewAllocator(cfg.PortBase, cfg.PortRangeSize, cfg.PortMaxRetries)
	eventSvc := events.New(eventHub, log)
	catalogSvc := catalog.New(repo, log)
	credentialSvc := credential.New(repo, repo, log)
	provisionSvc := provision.New(repo, runtimeClient, allocator, credentialSvc, catalogSvc, eventSvc, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, auth, provisionSvc, credentialSvc, catalogSvc, eventSvc, limiter, cfg.GatewayToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("platform server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("platform server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
