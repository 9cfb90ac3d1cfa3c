package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-books-pipeline/api"
	"github.com/aluiziolira/go-books-pipeline/cluster"
	"github.com/aluiziolira/go-books-pipeline/config"
	"github.com/aluiziolira/go-books-pipeline/lock"
	"github.com/aluiziolira/go-books-pipeline/logging"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/aluiziolira/go-books-pipeline/scraper"
	"github.com/aluiziolira/go-books-pipeline/store"
	"github.com/go-redis/redis/v8"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	listenAddr := flag.String("addr", cfg.ListenAddr, "HTTP listen address")
	databaseURL := flag.String("db", cfg.DatabaseURL, "SQLite path or postgres:// URL of the catalog store")
	modelDir := flag.String("model-dir", cfg.ModelDir, "Directory holding the trained model artifact")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address for run and catalog locks (empty uses in-process locks)")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Extra listen address for /metrics only (the API always serves /metrics)")
	verbose := flag.Bool("v", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.DatabaseURL = *databaseURL
	cfg.ModelDir = *modelDir
	cfg.RedisAddr = *redisAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	logger, level := logging.New(cfg.Verbose)
	logging.Install(logger, level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		metricsServer, err := metrics.Listen(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	catalog, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.LockTTL, logger)
	}

	fetcher, err := scraper.NewFetcher(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("initialise fetcher: %w", err)
	}
	crawler := scraper.NewCrawler(fetcher, fetcher.Base().String(), cfg.MaxPages, m, logger)
	loader := pipeline.NewCatalogLoader(catalog, locker, m, logger)
	p := pipeline.NewPipeline(crawler, loader, fetcher.Base()).
		WithExport(cfg.ExportFormat, cfg.ExportFile).
		WithMetrics(m).
		WithLogger(logger)
	executor := pipeline.NewExecutor(p, locker, logger)

	inference := cluster.LoadService(cfg.ModelDir, cluster.DefaultCacheSize, m, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(catalog, executor, inference, m, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("store", catalog.Name()),
			slog.Bool("model_loaded", inference.Available()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining requests and in-flight runs")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.Any("error", err))
	}
	executor.Wait()
	return nil
}
