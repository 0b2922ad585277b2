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

	"github.com/bffless/bffless/internal/app/migrate"
	"github.com/bffless/bffless/internal/cache"
	httpx "github.com/bffless/bffless/internal/http"
	"github.com/bffless/bffless/internal/repository/postgres"
	"github.com/bffless/bffless/internal/service/access"
	aliassvc "github.com/bffless/bffless/internal/service/alias"
	"github.com/bffless/bffless/internal/service/ingress"
	"github.com/bffless/bffless/internal/service/resolve"
	"github.com/bffless/bffless/internal/service/serve"
	"github.com/bffless/bffless/internal/service/traffic"
	uploadsvc "github.com/bffless/bffless/internal/service/upload"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/internal/ws"
	"github.com/bffless/bffless/pkg/config"
	"github.com/bffless/bffless/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

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

	repo := postgres.New(pool)

	var store storage.Adapter
	minioStore, err := storage.NewMinIO(ctx, cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		log.Warn("object storage unavailable, using in-memory adapter", "error", err)
		store = storage.NewMemory()
	} else {
		store = storage.NewCachedAdapter(minioStore)
	}

	metaCache := cache.NewMemoryCache()
	if addr := strings.TrimSpace(cfg.CacheRedisAddr); addr != "" {
		redisCache, err := cache.NewRedisCache(addr, cfg.CacheRedisPass, cfg.CacheRedisDB, log)
		if err != nil {
			log.Warn("redis metadata cache unavailable", "error", err)
		} else {
			metaCache = redisCache
		}
	}

	hub := ws.NewHub()

	ingressSvc, err := ingress.New(cfg, log)
	if err != nil {
		log.Error("failed to configure proxy management", "error", err)
		os.Exit(1)
	}
	defer ingressSvc.Close()

	orch := ingress.NewOrchestrator(repo, repo, repo, repo, ingressSvc, hub, log, cfg)
	aliasSvc := aliassvc.New(repo, repo, repo, store, orch, hub, log)
	uploadSvc := uploadsvc.New(repo, repo, aliasSvc, store, hub, log, cfg)

	resolver := resolve.New(repo, repo, log)
	pipeline := serve.New(repo, repo, repo, repo, repo, resolver, access.New(log), traffic.New(), metaCache, store, nil, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	repos := httpx.Repositories{
		Projects: repo,
		Aliases:  repo,
		Domains:  repo,
		Traffic:  repo,
		Rules:    repo,
	}
	router := httpx.NewRouter(log, cfg, pipeline, aliasSvc, uploadSvc, orch, ingressSvc, repos, hub, limiter, pool.Ping)
	defer router.Close()

	go sweepExpiredUploads(ctx, uploadSvc, cfg.UploadSweepEvery, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// sweepExpiredUploads drops pending uploads whose token was never finalized.
func sweepExpiredUploads(ctx context.Context, uploads *uploadsvc.Service, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := uploads.PurgeExpired(ctx)
			if err != nil {
				log.Error("pending upload sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("expired pending uploads removed", "count", removed)
			}
		}
	}
}
