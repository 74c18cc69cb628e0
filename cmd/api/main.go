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
	redis "github.com/redis/go-redis/v9"

	"github.com/splax/pagesmith/internal/app/migrate"
	"github.com/splax/pagesmith/internal/export"
	"github.com/splax/pagesmith/internal/hosting"
	httpx "github.com/splax/pagesmith/internal/http"
	"github.com/splax/pagesmith/internal/imagegen"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/internal/llm"
	"github.com/splax/pagesmith/internal/repository/postgres"
	"github.com/splax/pagesmith/internal/service/analytics"
	"github.com/splax/pagesmith/internal/service/auth"
	"github.com/splax/pagesmith/internal/service/deploy"
	"github.com/splax/pagesmith/internal/service/generate"
	"github.com/splax/pagesmith/internal/service/logs"
	"github.com/splax/pagesmith/internal/service/project"
	"github.com/splax/pagesmith/internal/storage"
	"github.com/splax/pagesmith/internal/workspace"
	"github.com/splax/pagesmith/internal/ws"
	"github.com/splax/pagesmith/pkg/config"
	"github.com/splax/pagesmith/pkg/logger"
	"github.com/splax/pagesmith/pkg/telemetry"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg := config.LoadAPIConfig()
	log := logger.New("pagesmith-api", cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, telemetry.ConfigFromEnv("pagesmith-api", version)); err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	_ = runner.Close()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := postgres.New(pool)
	if err := repo.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	health := map[string]httpx.HealthCheck{"database": repo.Ping}

	keyStore, closeKeyStore := keyStateStore(ctx, cfg, repo, log)
	defer closeKeyStore()
	if rc, ok := keyStore.(*keypool.RedisStore); ok {
		health["key_state_redis"] = rc.Ping
	}
	keys := keypool.New(cfg.LLMKeys, keyStore, log)
	if err := keys.Load(ctx); err != nil {
		log.Warn("key pool state not restored", "error", err)
	}
	if keys.Size() == 0 {
		log.Warn("no model API keys configured; generation will fail with a configuration error")
	}
	model := llm.New(keys, log,
		llm.WithBaseURL(cfg.LLMBaseURL),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithModels(cfg.LLMModel, cfg.LLMFallbackModel),
		llm.WithCooldown(cfg.LLMDefaultCooldown, cfg.LLMMinCooldown, cfg.LLMMaxCooldown),
	)

	var mirror generate.ImageMirror
	if cfg.ObjectStorageEnabled() {
		store, err := storage.NewS3(ctx, storage.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			log.Warn("object storage unavailable; images will use direct URLs", "error", err)
		} else {
			mirror = imagegen.NewMirror(store, nil, log)
		}
	}

	hub := ws.NewHub(cfg.LogBuffer)
	defer hub.Close()
	logSvc := logs.New(repo, hub, log)

	images := imagegen.New(imagegen.WithBaseURL(cfg.ImageBaseURL), imagegen.WithModel(cfg.ImageModel))
	generateSvc := generate.New(repo, repo, model, images, mirror, logSvc, log)

	exportRoot, err := workspace.New(cfg.ExportDir)
	if err != nil {
		log.Error("failed to prepare export directory", "error", err, "dir", cfg.ExportDir)
		os.Exit(1)
	}
	host := hosting.New(cfg.HostingAPIToken, cfg.HostingAccountID, log, hosting.WithBaseURL(cfg.HostingBaseURL))
	if !host.Configured() {
		log.Warn("hosting provider not configured; deploys will fail with a configuration error")
	}
	deploySvc := deploy.New(repo, repo, host, export.New(exportRoot, log), logSvc, log, deploy.Options{
		Prefix:       cfg.HostingPrefix,
		SiteDomain:   cfg.SiteDomain,
		HistoryLimit: cfg.HistoryLimit,
		BindAttempts: cfg.DomainBindAttempts,
	})

	authSvc := auth.New(repo, log, cfg.JWTSecret, cfg.TokenTTL)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
			if pinger, ok := redisLimiter.(interface{ Ping(context.Context) error }); ok {
				health["rate_limit_redis"] = pinger.Ping
			}
		}
	}

	router := httpx.NewRouter(log, httpx.Deps{
		Auth:              authSvc,
		Generate:          generateSvc,
		Deploy:            deploySvc,
		Projects:          project.New(repo, log),
		Analytics:         analytics.New(repo, host, log, cfg.SiteDomain),
		Logs:              logSvc,
		Keys:              keys,
		Limiter:           limiter,
		Health:            health,
		GeneratePerMinute: cfg.RateLimitGenerate,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "version", version, "model_keys", keys.Size())
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

// keyStateStore picks where key pool usage survives restarts.
func keyStateStore(ctx context.Context, cfg config.APIConfig, repo *postgres.Repository, log *slog.Logger) (keypool.Store, func()) {
	switch strings.ToLower(strings.TrimSpace(cfg.KeyStateBackend)) {
	case "memory":
		return keypool.NewMemoryStore(), func() {}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.KeyStateRedisAddr,
			Password: cfg.KeyStateRedisPass,
			DB:       cfg.KeyStateRedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("key state redis unavailable; falling back to postgres", "error", err)
			_ = client.Close()
			return repo, func() {}
		}
		return keypool.NewRedisStore(client, keypool.DefaultRedisKey), func() { _ = client.Close() }
	default:
		return repo, func() {}
	}
}
