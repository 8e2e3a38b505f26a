package backtest

import (
	"context"
	"errors"
	"fmt"

	"backlab/internal/indicator"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/strategy"
)

// CandleProvider supplies the engine's market data: deduplicated,
// ascending, both endpoints inclusive.
type CandleProvider interface {
	GetCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// StrategyLoader resolves a strategy id to its definition.
type StrategyLoader interface {
	Get(ctx context.Context, id string) (strategy.Strategy, error)
}

// Engine replays one strategy over historical candles. It is stateless
// between runs; everything a run produces goes through the result store.
type Engine struct {
	results    *ResultStore
	strategies StrategyLoader
	candles    CandleProvider
	hub        *Hub
}

func NewEngine(results *ResultStore, strategies StrategyLoader, candles CandleProvider, hub *Hub) *Engine {
	if hub == nil {
		hub = NewHub()
	}
	return &Engine{results: results, strategies: strategies, candles: candles, hub: hub}
}

func (e *Engine) Hub() *Hub { return e.hub }

// Execute runs one backtest to a terminal status. Engine errors never
// escape: every failure mode is converted into a failed (or canceled)
// run record, and only the persistence of that record can return an error.
func (e *Engine) Execute(ctx context.Context, runID string) error {
	run, err := e.results.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if Terminal(run.Status) {
		return nil
	}
	if err := e.results.UpdateRunStatus(ctx, runID, StatusRunning, ""); err != nil {
		return err
	}
	e.publish(Event{RunID: runID, Status: StatusRunning, Progress: 0})

	res, simErr := e.simulate(ctx, run)
	if simErr != nil {
		return e.finishWithError(runID, simErr)
	}
	if err := e.results.CommitResult(ctx, res); err != nil {
		// The transaction rolled back; the run still holds no partial data.
		return e.finishWithError(runID, err)
	}
	if stats := computeStats(run.InitialBalance, res.Trades, res.Equity); stats != nil {
		if err := e.results.SaveStats(ctx, runID, stats); err != nil {
			logger.Warnw("backtest stats not saved", "run", runID, "error", err)
		}
	}
	e.publish(Event{RunID: runID, Status: StatusCompleted, Progress: 100, Message: res.Message})
	logger.Infow("backtest run completed", "run", runID, "trades", len(res.Trades), "final", res.FinalBalance)
	return nil
}

// finishWithError converts an engine error into a terminal run record.
// Cancellation becomes canceled; everything else becomes failed.
func (e *Engine) finishWithError(runID string, cause error) error {
	status := StatusFailed
	message := cause.Error()
	switch {
	case errors.Is(cause, context.Canceled):
		status = StatusCanceled
		message = "canceled by request"
	case errors.Is(cause, context.DeadlineExceeded):
		message = "run exceeded its time limit"
	}
	// Status updates use a fresh context: the run context may already be dead.
	if err := e.results.UpdateRunStatus(context.Background(), runID, status, message); err != nil {
		logger.Errorw("backtest terminal status not recorded", "run", runID, "status", status, "error", err)
		return err
	}
	e.publish(Event{RunID: runID, Status: status, Message: message})
	logger.Warnw("backtest run ended early", "run", runID, "status", status, "reason", message)
	return nil
}

func (e *Engine) simulate(ctx context.Context, run Run) (Result, error) {
	st, err := e.strategies.Get(ctx, run.StrategyID)
	if err != nil {
		return Result{}, ConfigurationError("strategy %s: %v", run.StrategyID, err)
	}
	if err := st.Validate(); err != nil {
		return Result{}, ConfigurationError("strategy %s invalid: %v", run.StrategyID, err)
	}
	// A fetch failure is not a no-data condition: the wrapped cause keeps
	// context cancellation visible to the boundary classification.
	candles, err := e.candles.GetCandles(ctx, run.Symbol, run.Timeframe, run.Start, run.End)
	if err != nil {
		return Result{}, fmt.Errorf("loading %s %s candles: %w", run.Symbol, run.Timeframe, err)
	}
	if len(candles) == 0 {
		return Result{}, NoDataError("no candles for %s %s in [%d,%d]", run.Symbol, run.Timeframe, run.Start, run.End)
	}
	cache, err := indicator.BuildCache(candles, st.Refs())
	if err != nil {
		return Result{}, RuleEvaluationError("building indicator cache: %v", err)
	}

	book := newTradeBook(run.Symbol, run.InitialBalance)
	total := len(candles)
	progressStep := total / 20
	if progressStep == 0 {
		progressStep = 1
	}

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if book.hasPosition() {
			hit, err := evaluate(st.ExitRules, i, cache)
			if err != nil {
				return Result{}, fmt.Errorf("candle %d: exit rules: %w", i, err)
			}
			if hit {
				trade, _ := book.closePosition(c, "exit rules")
				e.publish(Event{RunID: run.ID, Status: StatusRunning,
					Progress: percent(i, total), Trade: &trade})
			}
		} else {
			hit, err := evaluate(st.EntryRules, i, cache)
			if err != nil {
				return Result{}, fmt.Errorf("candle %d: entry rules: %w", i, err)
			}
			if hit {
				size := positionSize(book.Balance(), st.Config, run.Metadata)
				book.openPosition(c, size)
			}
		}
		if (i+1)%progressStep == 0 {
			e.publish(Event{RunID: run.ID, Status: StatusRunning, Progress: percent(i, total)})
		}
	}

	if book.hasPosition() {
		trade, _ := book.closePosition(candles[total-1], "End of backtest")
		e.publish(Event{RunID: run.ID, Status: StatusRunning, Progress: 99, Trade: &trade})
	}

	return Result{
		RunID:        run.ID,
		Status:       StatusCompleted,
		FinalBalance: book.Balance(),
		Trades:       book.trades,
		Equity:       buildEquityCurve(run.InitialBalance, book.trades),
		Message:      fmt.Sprintf("processed %d candles", total),
	}, nil
}

func (e *Engine) publish(ev Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}

func percent(i, total int) int {
	if total <= 0 {
		return 0
	}
	p := (i + 1) * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}
