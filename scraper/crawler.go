package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aluiziolira/go-books-pipeline/metrics"
	"github.com/aluiziolira/go-books-pipeline/models"
	"github.com/aluiziolira/go-books-pipeline/parser"
)

// State is a crawl state machine state.
type State int

const (
	StateFetching State = iota
	StateParsing
	StatePaginating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateParsing:
		return "parsing"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateFetching:   {StateParsing, StateFailed},
	StateParsing:    {StatePaginating, StateFailed},
	StatePaginating: {StateFetching, StateDone},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// ErrTerminalState is returned when stepping a finished crawl.
var ErrTerminalState = errors.New("scraper: crawl already finished")

// PageFetcher retrieves one catalog page.
type PageFetcher interface {
	Fetch(ctx context.Context, ref string) (*FetchedPage, error)
}

// CrawlState is the state of one run. It is owned by a single goroutine.
type CrawlState struct {
	Status   State
	Current  string
	Records  []models.RawRecord
	Pages    int
	Requests int
	// FailedIn is the state that produced Err.
	FailedIn State
	Err      error

	fetched *FetchedPage
	parsed  *parser.Page
}

// NewCrawlState returns the initial state for a crawl starting at start.
func NewCrawlState(start string) *CrawlState {
	return &CrawlState{Status: StateFetching, Current: start}
}

func (st *CrawlState) moveTo(to State) error {
	if !CanTransition(st.Status, to) {
		return fmt.Errorf("scraper: illegal transition %s -> %s", st.Status, to)
	}
	st.Status = to
	return nil
}

func (st *CrawlState) fail(err error) error {
	from := st.Status
	if mErr := st.moveTo(StateFailed); mErr != nil {
		return mErr
	}
	st.FailedIn = from
	st.Err = err
	st.fetched = nil
	st.parsed = nil
	return nil
}

// CrawlError is returned by Crawl when the run ends in StateFailed.
type CrawlError struct {
	State State
	URL   string
	Pages int
	Err   error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl failed while %s %s after %d pages: %v", e.State, e.URL, e.Pages, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// Crawler walks the catalog pagination chain one page at a time.
type Crawler struct {
	fetcher  PageFetcher
	start    string
	maxPages int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCrawler builds a crawler starting at start. maxPages of 0 follows the
// chain until a page has no next reference.
func NewCrawler(fetcher PageFetcher, start string, maxPages int, m *metrics.Metrics, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		fetcher:  fetcher,
		start:    start,
		maxPages: maxPages,
		metrics:  m,
		logger:   logger,
	}
}

// Step performs exactly one transition of st.
func (c *Crawler) Step(ctx context.Context, st *CrawlState) error {
	switch st.Status {
	case StateFetching:
		st.Requests++
		page, err := c.fetcher.Fetch(ctx, st.Current)
		if err != nil {
			return st.fail(err)
		}
		st.fetched = page
		return st.moveTo(StateParsing)

	case StateParsing:
		parsed, err := parser.ParsePage(st.fetched.Body, st.fetched.URL)
		if err != nil {
			return st.fail(err)
		}
		st.Records = append(st.Records, parsed.Records...)
		st.Pages++
		st.parsed = parsed
		st.fetched = nil
		c.metrics.AddRecords(len(parsed.Records))
		c.logger.Debug("page parsed",
			slog.String("url", st.Current),
			slog.Int("records", len(parsed.Records)),
			slog.Int("total", len(st.Records)),
		)
		return st.moveTo(StatePaginating)

	case StatePaginating:
		next := st.parsed.Next
		st.parsed = nil
		if next == "" || (c.maxPages > 0 && st.Pages >= c.maxPages) {
			st.Current = ""
			return st.moveTo(StateDone)
		}
		st.Current = next
		return st.moveTo(StateFetching)

	default:
		return ErrTerminalState
	}
}

// Run drives the state machine from the start page to a terminal state and
// returns the final state.
func (c *Crawler) Run(ctx context.Context) (*CrawlState, error) {
	st := NewCrawlState(c.start)
	for !st.Status.Terminal() {
		if err := c.Step(ctx, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Crawl runs a full crawl. On failure no records are returned.
func (c *Crawler) Crawl(ctx context.Context) (*models.CrawlResult, error) {
	started := time.Now()
	st, err := c.Run(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status == StateFailed {
		c.logger.Error("crawl failed",
			slog.String("state", st.FailedIn.String()),
			slog.String("url", st.Current),
			slog.Int("pages", st.Pages),
			slog.Int("discarded_records", len(st.Records)),
			slog.Any("error", st.Err),
		)
		return nil, &CrawlError{State: st.FailedIn, URL: st.Current, Pages: st.Pages, Err: st.Err}
	}

	c.logger.Info("crawl finished",
		slog.Int("pages", st.Pages),
		slog.Int("records", len(st.Records)),
	)
	return &models.CrawlResult{
		Records:   st.Records,
		Pages:     st.Pages,
		Requests:  st.Requests,
		StartTime: started,
		EndTime:   time.Now(),
	}, nil
}
