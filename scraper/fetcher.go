// Package scraper fetches catalog pages and drives the pagination crawl.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-books-pipeline/config"
	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/gocolly/colly/v2"
)

// FetchedPage is a successfully retrieved catalog page.
type FetchedPage struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
}

// Fetcher retrieves one catalog page per call through a colly collector. The
// collector's limit rule holds one request in flight and pauses for the
// configured delay after each request.
type Fetcher struct {
	base      *url.URL
	collector *colly.Collector
	agents    []string
	pick      func(n int) int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if len(cfg.UserAgents) == 0 {
		return nil, fmt.Errorf("user agent pool cannot be empty")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgents[0]),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	agents := make([]string, len(cfg.UserAgents))
	copy(agents, cfg.UserAgents)

	return &Fetcher{
		base:      parsed,
		collector: collector,
		agents:    agents,
		pick:      rand.IntN,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Base returns the catalog base URL.
func (f *Fetcher) Base() *url.URL {
	return f.base
}

// Fetch resolves ref against the base URL and retrieves it once. Every failure
// is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*FetchedPage, error) {
	target, err := f.resolve(ref)
	if err != nil {
		return nil, &FetchError{URL: ref, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: target.String(), Err: err}
	}

	c := f.collector.Clone()

	var (
		page       *FetchedPage
		statusCode int
		start      time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("User-Agent", f.agent())
		start = time.Now()
		f.metrics.IncRequest("started")
	})

	c.OnResponse(func(r *colly.Response) {
		f.metrics.ObserveDuration(time.Since(start))
		page = &FetchedPage{
			URL:        r.Request.URL,
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if !start.IsZero() {
			f.metrics.ObserveDuration(time.Since(start))
		}
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	if err := c.Visit(target.String()); err != nil {
		return nil, f.fail(target, classifyError(err, statusCode))
	}
	if page == nil {
		if err := ctx.Err(); err != nil {
			return nil, f.fail(target, err)
		}
		return nil, f.fail(target, fmt.Errorf("no response received"))
	}
	if len(page.Body) == 0 {
		return nil, f.fail(target, errEmptyBody)
	}

	f.metrics.IncRequest("completed")
	return page, nil
}

func (f *Fetcher) fail(target *url.URL, err error) error {
	fetchErr := &FetchError{URL: target.String(), Err: err}
	category := fetchErr.Category()
	f.metrics.IncRequest("failed")
	f.metrics.IncError(category)
	f.logger.Error("request error",
		slog.String("url", fetchErr.URL),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return fetchErr
}

func (f *Fetcher) resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse page reference: %w", err)
	}
	return f.base.ResolveReference(parsed), nil
}

func (f *Fetcher) agent() string {
	return f.agents[f.pick(len(f.agents))]
}
