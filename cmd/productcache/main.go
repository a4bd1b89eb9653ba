package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/productcache/internal/adapter/driven/memory"
	"github.com/ericfisherdev/productcache/internal/adapter/driven/paapi"
	redisadapter "github.com/ericfisherdev/productcache/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/productcache/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/productcache/internal/adapter/driving/http"
	"github.com/ericfisherdev/productcache/internal/application"
	"github.com/ericfisherdev/productcache/internal/config"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/pkg/clock"
	"github.com/ericfisherdev/productcache/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on unparsable env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Install the zap-backed slog logger as the process default.
	lg, err := logger.New(cfg.Environment, cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()
	slog.SetDefault(lg.Logger)
	log := lg.Logger

	log.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_marketplace", cfg.DefaultMarketplace,
		"cache_enabled", cfg.CacheEnabled,
		"cache_duration", cfg.CacheDuration,
		"throttle_rate", cfg.ThrottleRate,
		"redis", cfg.RedisAddr != "",
		"site_cipher", cfg.HasSiteCipher(),
	)

	// 3. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(); err != nil {
		return err
	}
	log.Info("migrations complete", "path", cfg.DBPath)

	// 5. Wire driven adapters.
	productStore := sqliteadapter.NewProductRepo(db)
	clickStore := sqliteadapter.NewClickRepo(db)
	if !cfg.HasSiteCipher() {
		log.Warn("site secret or salt not set; credentials are stored in plaintext")
	}
	credentialStore := sqliteadapter.NewCredentialRepo(db, sqliteadapter.NewSiteCipher(cfg.SiteSecret, cfg.SiteSalt), log)

	mirror, closeMirror := openMirror(ctx, cfg, log)
	defer closeMirror()

	// 6. Product API client behind a hot-swappable provider. Every client
	// shares one throttle so the rate limit holds across credential changes.
	throttle := paapi.NewThrottle(cfg.ThrottleRate)
	factory := func(c application.Credentials) driven.ProductAPI {
		return paapi.NewClient(paapi.Credentials{
			AccessKey:  c.AccessKey,
			SecretKey:  c.SecretKey,
			PartnerTag: c.PartnerTag,
		}, throttle, cfg.HTTPTimeout, log)
	}
	provider := application.NewClientProvider(nil)

	credentialSvc := application.NewCredentialService(credentialStore, provider, factory, application.Credentials{
		AccessKey:  cfg.AccessKey,
		SecretKey:  cfg.SecretKey,
		PartnerTag: cfg.PartnerTag,
	}, log)
	active, err := credentialSvc.Activate(ctx)
	if err != nil {
		return err
	}
	log.Info("product API client", "active", active, "throttle_interval", throttle.Interval())

	// 7. Application services.
	clk := clock.RealClock{}
	cacheSvc := application.NewCacheService(productStore, mirror, cfg.CacheDuration, clk, log)
	productSvc := application.NewProductService(provider, cacheSvc, application.ProductServiceConfig{
		DefaultMarketplace: cfg.DefaultMarketplace,
		CacheEnabled:       cfg.CacheEnabled,
	}, log)
	refreshSvc := application.NewRefreshService(cacheSvc, productSvc, cfg.RefreshBatchLimit, log)
	clickSvc := application.NewClickService(clickStore, cfg.ClickRetention, clk, log)

	scheduler := application.NewScheduler([]application.Job{
		{Name: "refresh", Interval: cfg.RefreshInterval, Run: refreshSvc.Run},
		{Name: "prune", Interval: cfg.PruneInterval, Run: clickSvc.Prune},
	}, cfg.Debug, log)
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(schedulerDone)
	}()

	// 8. HTTP server.
	apiHandler := httphandler.NewHandler(productSvc, cacheSvc, provider, credentialSvc, clickSvc, scheduler, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	log.Info("productcache started",
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
		"prune_interval", cfg.PruneInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	log.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	<-schedulerDone

	log.Info("shutdown complete")
	return nil
}

// openMirror connects the Redis mirror when an address is configured and
// reachable, and falls back to the in-process mirror otherwise.
func openMirror(ctx context.Context, cfg *config.Config, log *slog.Logger) (driven.ProductMirror, func()) {
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		mirror := redisadapter.NewMirror(rdb, redisadapter.DefaultPrefix)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := mirror.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info("redis mirror connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
			return mirror, func() {
				if err := rdb.Close(); err != nil {
					log.Error("error closing redis client", "error", err)
				}
			}
		}

		log.Warn("redis unreachable, using in-memory mirror", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
	}

	return memory.NewMirror(nil), func() {}
}
