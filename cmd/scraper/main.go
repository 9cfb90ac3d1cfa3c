package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-books-pipeline/config"
	"github.com/aluiziolira/go-books-pipeline/lock"
	"github.com/aluiziolira/go-books-pipeline/logging"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/aluiziolira/go-books-pipeline/scraper"
	"github.com/aluiziolira/go-books-pipeline/store"
	"github.com/go-redis/redis/v8"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	maxPages := flag.Int("pages", cfg.MaxPages, "Maximum catalog pages to crawl (0 follows pagination to the end)")
	delayMs := flag.Int("delay", int(cfg.Delay/time.Millisecond), "Delay between page requests (milliseconds)")
	respectRobots := flag.Bool("respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	exportFile := flag.String("output", cfg.ExportFile, "Export file path")
	exportFormat := flag.String("format", cfg.ExportFormat, "Export format: csv, json, dual, or none")
	databaseURL := flag.String("db", cfg.DatabaseURL, "SQLite path or postgres:// URL of the catalog store")
	baseURL := flag.String("base-url", cfg.BaseURL, "Catalog base URL")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address for the catalog lock (empty uses an in-process lock)")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	fromCSV := flag.String("from-csv", "", "Load the catalog from an exported CSV instead of crawling")
	verbose := flag.Bool("v", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.MaxPages = *maxPages
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RespectRobotsTxt = *respectRobots
	cfg.ExportFile = *exportFile
	cfg.ExportFormat = strings.ToLower(*exportFormat)
	cfg.DatabaseURL = *databaseURL
	cfg.BaseURL = *baseURL
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

	if err := run(ctx, cfg, *fromCSV, logger); err != nil {
		slog.Error("pipeline failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, fromCSV string, logger *slog.Logger) error {
	m := metrics.New()

	if cfg.MetricsAddr != "" {
		metricsServer, err := metrics.Listen(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer shutdownMetrics(metricsServer, logger)
	}

	catalog, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	locker, closeLocker := newLocker(cfg, logger)
	defer closeLocker()
	loader := pipeline.NewCatalogLoader(catalog, locker, m, logger)

	fetcher, err := scraper.NewFetcher(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("initialise fetcher: %w", err)
	}

	if fromCSV != "" {
		books, err := pipeline.ReadCSV(fromCSV, fetcher.Base())
		if err != nil {
			return err
		}
		loaded, err := loader.Load(ctx, books)
		if err != nil {
			return err
		}
		logger.Info("catalog loaded from csv", slog.String("file", fromCSV), slog.Int("loaded", loaded))
		return nil
	}

	logger.Info("starting pipeline run",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_pages", cfg.MaxPages),
		slog.String("store", catalog.Name()),
	)

	crawler := scraper.NewCrawler(fetcher, fetcher.Base().String(), cfg.MaxPages, m, logger)
	p := pipeline.NewPipeline(crawler, loader, fetcher.Base()).
		WithExport(cfg.ExportFormat, cfg.ExportFile).
		WithMetrics(m).
		WithLogger(logger)

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(result, cfg, catalog.Name())
	return nil
}

// newLocker returns a Redis-backed locker when an address is configured and
// nil otherwise, which selects the in-process lock.
func newLocker(cfg *config.Config, logger *slog.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return lock.NewRedisLocker(client, cfg.LockTTL, logger), func() { client.Close() }
}

func shutdownMetrics(srv *metrics.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *pipeline.RunResult, cfg *config.Config, storeName string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Pipeline run complete")

	fmt.Printf("  Pages:         %d\n", result.Crawl.Pages)
	fmt.Printf("  Requests:      %d\n", result.Crawl.Requests)
	fmt.Printf("  Records:       %d\n", len(result.Crawl.Records))
	fmt.Printf("  Loaded:        %d\n", result.Loaded)
	fmt.Printf("  Duration:      %v\n", result.Duration)
	if seconds := result.Duration.Seconds(); seconds > 0 {
		fmt.Printf("  Records/sec:   %.2f\n", float64(result.Loaded)/seconds)
	}
	fmt.Printf("  Store:         %s\n", storeName)
	if cfg.ExportFormat != "none" {
		fmt.Printf("  Export file:   %s (%s)\n", cfg.ExportFile, cfg.ExportFormat)
	}
	fmt.Println(separator)
}
