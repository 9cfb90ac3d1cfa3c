package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-books-pipeline/lock"
	"github.com/google/uuid"
)

// ErrRunInProgress is returned by Submit while another run holds the run lock.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

const runLockKey = "pipeline:run"

// Runner performs one ingestion run.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Ticket acknowledges an accepted run.
type Ticket struct {
	ID         uuid.UUID `json:"run_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Executor runs at most one pipeline at a time in the background.
type Executor struct {
	runner Runner
	locker lock.Locker
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewExecutor builds an executor. A nil locker uses an in-process KeyedMutex.
func NewExecutor(runner Runner, locker lock.Locker, logger *slog.Logger) *Executor {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{runner: runner, locker: locker, logger: logger}
}

// Submit starts a run and returns without waiting for it. The run keeps going
// when ctx is canceled; its outcome is only logged.
func (e *Executor) Submit(ctx context.Context) (Ticket, error) {
	release, ok, err := e.locker.TryLock(ctx, runLockKey)
	if err != nil {
		return Ticket{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return Ticket{}, ErrRunInProgress
	}

	ticket := Ticket{ID: uuid.New(), AcceptedAt: time.Now().UTC()}
	runCtx := context.WithoutCancel(ctx)
	logger := e.logger.With(slog.String("run_id", ticket.ID.String()))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()

		logger.Info("pipeline run started")
		result, err := e.runner.Run(runCtx)
		if err != nil {
			logger.Error("pipeline run finished with error", slog.Any("error", err))
			return
		}
		logger.Info("pipeline run finished",
			slog.Int("loaded", result.Loaded),
			slog.Duration("duration", result.Duration),
		)
	}()

	return ticket, nil
}

// Wait blocks until every submitted run has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
