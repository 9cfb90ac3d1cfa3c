package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-books-pipeline/cluster"
	"github.com/aluiziolira/go-books-pipeline/config"
	"github.com/aluiziolira/go-books-pipeline/features"
	"github.com/aluiziolira/go-books-pipeline/logging"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/pipeline"
	"github.com/aluiziolira/go-books-pipeline/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	databaseURL := flag.String("db", cfg.DatabaseURL, "SQLite path or postgres:// URL of the catalog store")
	modelDir := flag.String("model-dir", cfg.ModelDir, "Directory the model artifact is written to")
	clusters := flag.Int("k", cfg.ClusterCount, "Number of clusters")
	seed := flag.Uint64("seed", cfg.ClusterSeed, "Random seed for centroid initialisation")
	fromCSV := flag.String("from-csv", "", "Train from an exported CSV instead of the store")
	verbose := flag.Bool("v", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.DatabaseURL = *databaseURL
	cfg.ModelDir = *modelDir
	cfg.ClusterCount = *clusters
	cfg.ClusterSeed = *seed
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
		slog.Error("training failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, fromCSV string, logger *slog.Logger) error {
	vectors, err := trainingSet(ctx, cfg, fromCSV, logger)
	if err != nil {
		return err
	}

	opts := cluster.DefaultOptions()
	opts.K = cfg.ClusterCount
	opts.Seed = cfg.ClusterSeed

	started := time.Now()
	model, err := cluster.Train(vectors, opts)
	if err != nil {
		return err
	}
	if err := cluster.Save(cfg.ModelDir, model); err != nil {
		return err
	}

	logger.Info("model trained",
		slog.Int("samples", len(vectors)),
		slog.Int("clusters", model.KMeans.K()),
		slog.Int("iterations", model.KMeans.Iterations),
		slog.Float64("inertia", model.KMeans.Inertia),
		slog.Duration("duration", time.Since(started)),
		slog.String("dir", cfg.ModelDir),
	)
	return nil
}

func trainingSet(ctx context.Context, cfg *config.Config, fromCSV string, logger *slog.Logger) ([]models.FeatureVector, error) {
	if fromCSV != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		books, err := pipeline.ReadCSV(fromCSV, base)
		if err != nil {
			return nil, err
		}
		logger.Debug("training set read from csv", slog.String("file", fromCSV), slog.Int("books", len(books)))
		return features.FromBooks(books), nil
	}

	catalog, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	defer catalog.Close()

	vectors, err := features.Collect(features.All(ctx, catalog))
	if err != nil {
		return nil, fmt.Errorf("read features from %s: %w", catalog.Name(), err)
	}
	logger.Debug("training set read from store", slog.String("store", catalog.Name()), slog.Int("vectors", len(vectors)))
	return vectors, nil
}
