// Package pipeline runs the ingestion sequence: crawl, normalize, export and
// a full-replace load of the catalog store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/parser"
	"github.com/aluiziolira/go-books-pipeline/scraper"
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageExport    Stage = "export"
	StageLoad      Stage = "load"
)

// ErrLoad wraps every failure to write the catalog store.
var ErrLoad = errors.New("pipeline: load failed")

// RunError reports the stage that aborted a run.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline %s stage: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Crawler produces the raw records of one complete crawl.
type Crawler interface {
	Crawl(ctx context.Context) (*models.CrawlResult, error)
}

// Loader replaces the stored catalog.
type Loader interface {
	Load(ctx context.Context, books []models.Book) (int, error)
}

// RunResult summarizes a successful run.
type RunResult struct {
	Crawl    *models.CrawlResult
	Loaded   int
	Duration time.Duration
}

// Pipeline wires a crawler to the loader. A run either loads the complete
// normalized crawl or leaves the store untouched.
type Pipeline struct {
	crawler Crawler
	loader  Loader
	base    *url.URL

	exportFormat string
	exportFile   string

	metrics *metrics.Metrics
	logger  *slog.Logger
	stats   runStats
}

// NewPipeline builds a pipeline. base is the URL image paths are resolved
// against.
func NewPipeline(crawler Crawler, loader Loader, base *url.URL) *Pipeline {
	return &Pipeline{
		crawler: crawler,
		loader:  loader,
		base:    base,
		logger:  slog.Default(),
		stats:   newRunStats(),
	}
}

// WithExport writes a tabular copy of every successful crawl to filename
// before loading. format is one of csv, json, dual or none.
func (p *Pipeline) WithExport(format, filename string) *Pipeline {
	p.exportFormat = format
	p.exportFile = filename
	return p
}

// WithMetrics records run outcomes in m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Run performs one full ingestion. Crawl or normalization failures never
// reach the loader, and the export is published only after a successful load.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()

	crawl, err := p.crawler.Crawl(ctx)
	if err != nil {
		return nil, p.abort(crawlStage(err), err)
	}

	books, err := parser.NormalizeAll(crawl.Records, p.base)
	if err != nil {
		return nil, p.abort(StageNormalize, err)
	}

	staged, err := p.export(books)
	if err != nil {
		return nil, p.abort(StageExport, err)
	}

	loaded, err := p.loader.Load(ctx, books)
	if err != nil {
		if staged != nil {
			if derr := staged.Discard(); derr != nil {
				p.logger.Warn("discard staged export", slog.Any("error", derr))
			}
		}
		return nil, p.abort(StageLoad, err)
	}
	if staged != nil {
		if err := staged.Commit(); err != nil {
			return nil, p.abort(StageExport, err)
		}
		p.logger.Debug("export written", slog.String("file", p.exportFile), slog.String("format", p.exportFormat))
	}

	result := &RunResult{Crawl: crawl, Loaded: loaded, Duration: time.Since(started)}
	p.stats.success(loaded)
	p.metrics.IncRun("success")
	p.logger.Info("pipeline run complete",
		slog.Int("pages", crawl.Pages),
		slog.Int("loaded", loaded),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// export stages the tabular copy. It is committed only once the load
// succeeds, so a failed run leaves the previous export in place.
func (p *Pipeline) export(books []models.Book) (OutputWriter, error) {
	if p.exportFormat == "" || p.exportFormat == "none" {
		return nil, nil
	}
	writer, err := NewWriter(p.exportFormat, p.exportFile)
	if err != nil {
		return nil, err
	}
	if err := writer.Write(books); err != nil {
		writer.Discard()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		writer.Discard()
		return nil, err
	}
	if err := writer.Validate(); err != nil {
		writer.Discard()
		return nil, err
	}
	return writer, nil
}

func (p *Pipeline) abort(stage Stage, err error) error {
	p.stats.failure(stage)
	p.metrics.IncRun(string(stage))
	p.logger.Error("pipeline run failed", slog.String("stage", string(stage)), slog.Any("error", err))
	return &RunError{Stage: stage, Err: err}
}

func crawlStage(err error) Stage {
	var crawlErr *scraper.CrawlError
	if errors.As(err, &crawlErr) && crawlErr.State == scraper.StateParsing {
		return StageParse
	}
	return StageFetch
}

// GetMetrics returns a snapshot of the run counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.stats.snapshot()
}

type runStats struct {
	mu         sync.Mutex
	runs       int64
	succeeded  int64
	failures   map[Stage]int
	lastLoaded int
}

func newRunStats() runStats {
	return runStats{failures: make(map[Stage]int)}
}

func (s *runStats) success(loaded int) {
	s.mu.Lock()
	s.runs++
	s.succeeded++
	s.lastLoaded = loaded
	s.mu.Unlock()
}

func (s *runStats) failure(stage Stage) {
	s.mu.Lock()
	s.runs++
	s.failures[stage]++
	s.mu.Unlock()
}

func (s *runStats) snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make(map[string]int, len(s.failures))
	for stage, n := range s.failures {
		failures[string(stage)] = n
	}
	return map[string]interface{}{
		"runs":        s.runs,
		"succeeded":   s.succeeded,
		"failures":    failures,
		"last_loaded": s.lastLoaded,
	}
}
