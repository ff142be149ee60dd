package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/efebausal/bilshare/internal/allocator"
	"github.com/efebausal/bilshare/internal/cache"
	"github.com/efebausal/bilshare/internal/chat"
	"github.com/efebausal/bilshare/internal/config"
	"github.com/efebausal/bilshare/internal/directory"
	"github.com/efebausal/bilshare/internal/events"
	"github.com/efebausal/bilshare/internal/httpapi"
	"github.com/efebausal/bilshare/internal/identity"
	"github.com/efebausal/bilshare/internal/logging"
	"github.com/efebausal/bilshare/internal/reports"
	"github.com/efebausal/bilshare/internal/rides"
	"github.com/efebausal/bilshare/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("bilshare-server", cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN, logger); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		pg, err := storage.NewPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemory()
	}

	var listCache *cache.RideList
	if cfg.RedisAddr != "" {
		listCache = cache.NewRideList(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		defer listCache.Close()
	}

	var pub *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer pub.Close()
	}

	var webhook *identity.WebhookVerifier
	if cfg.WebhookSecret != "" {
		webhook, err = identity.NewWebhookVerifier(cfg.WebhookSecret)
		if err != nil {
			logger.Error("webhook verifier init failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("IDENTITY_WEBHOOK_SECRET not set, identity webhook disabled")
	}

	dir := directory.New(store, cfg.AllowedDomain, logger)
	registry := rides.NewRegistry(store, listCache, pub, logger, cfg.PageSize)
	alloc := allocator.New(store, listCache, pub, logger)
	chatSvc := chat.New(store, chat.NewRegistry(logger), pub, logger)
	reps := reports.New(store, pub)

	srv := httpapi.NewServer(
		logger,
		identity.NewTokenVerifier(cfg.AuthSecret),
		webhook,
		dir, registry, alloc, chatSvc, reps,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go completionSweeper(ctx, registry, cfg.CompleteEvery, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("bilshare listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// completionSweeper periodically flips past ACTIVE/FULL rides to COMPLETED.
func completionSweeper(ctx context.Context, registry *rides.Registry, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := registry.CompletePastRides(ctx, time.Now()); err != nil {
				logger.Warn("completion sweep failed", "error", err)
			}
		}
	}
}

func runMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
	if err != nil {
		return err
	}
	if _, err := db.Exec(string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", "001_init.sql")
	return nil
}
