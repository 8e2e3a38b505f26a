package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backlab/internal/logger"
)

// RunnerConfig bounds concurrent run execution.
type RunnerConfig struct {
	MaxConcurrent int
	RunTimeout    time.Duration
	QueueBackoff  time.Duration
}

// Runner admits runs into the engine under a concurrency cap and a
// per-run wall-clock timeout. A run waiting for a slot retries on a fixed
// backoff instead of holding a goroutine against the semaphore.
type Runner struct {
	engine  *Engine
	results *ResultStore

	sem        chan struct{}
	runTimeout time.Duration
	backoff    time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewRunner(engine *Engine, results *ResultStore, cfg RunnerConfig) *Runner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	backoff := cfg.QueueBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Runner{
		engine:     engine,
		results:    results,
		sem:        make(chan struct{}, maxConcurrent),
		runTimeout: runTimeout,
		backoff:    backoff,
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    context.Background(),
	}
}

// SetContext injects the host context; when it dies, queued and running
// work winds down.
func (r *Runner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.baseCtx = ctx
	}
}

// Submit queues a run for execution and returns immediately.
func (r *Runner) Submit(runID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(runID)
	}()
}

func (r *Runner) execute(runID string) {
	for {
		select {
		case r.sem <- struct{}{}:
		case <-r.baseCtx.Done():
			logger.Warnf("[backtest] run %s abandoned: runner shutting down", runID)
			return
		case <-time.After(r.backoff):
			continue
		}
		break
	}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(r.baseCtx, r.runTimeout)
	r.mu.Lock()
	r.cancels[runID] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, runID)
		r.mu.Unlock()
	}()

	if err := r.engine.Execute(ctx, runID); err != nil {
		logger.Errorf("[backtest] run %s did not reach a terminal record: %v", runID, err)
	}
}

// Cancel stops an in-flight run. Returns an error when the run is not
// currently executing.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not executing", runID)
	}
	cancel()
	return nil
}

// ResumePending requeues runs interrupted by a previous shutdown: running
// rows flip back to pending, then every pending run is resubmitted.
func (r *Runner) ResumePending(ctx context.Context) error {
	reset, err := r.results.ResetStale(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		logger.Infof("[backtest] reset %d interrupted runs to pending", reset)
	}
	ids, err := r.results.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.Submit(id)
	}
	if len(ids) > 0 {
		logger.Infof("[backtest] requeued %d pending runs", len(ids))
	}
	return nil
}

// Wait blocks until every submitted run has finished or been abandoned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
