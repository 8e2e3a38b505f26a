package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ResultStore persists runs, trades and equity curves in one sqlite file.
// Decimal amounts are stored as TEXT so nothing is lost to float rounding.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error { return s.db.Close() }

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			strategy_id     TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			start_time      INTEGER NOT NULL,
			end_time        INTEGER NOT NULL,
			status          TEXT NOT NULL,
			initial_balance TEXT NOT NULL,
			final_balance   TEXT,
			metadata_json   TEXT,
			stats_json      TEXT,
			message         TEXT,
			created_at      INTEGER NOT NULL,
			started_at      INTEGER,
			finished_at     INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			entry_time  INTEGER NOT NULL,
			exit_time   INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price  TEXT NOT NULL,
			size        TEXT NOT NULL,
			quantity    TEXT NOT NULL,
			pnl         TEXT NOT NULL,
			pnl_pct     TEXT NOT NULL,
			fees        TEXT NOT NULL,
			reason      TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, entry_time);`,
		`CREATE TABLE IF NOT EXISTS equity (
			run_id  TEXT NOT NULL,
			ts      INTEGER NOT NULL,
			balance TEXT NOT NULL,
			PRIMARY KEY (run_id, ts)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun registers a new pending run and returns it.
func (s *ResultStore) CreateRun(ctx context.Context, req RunRequest) (Run, error) {
	if err := req.validate(); err != nil {
		return Run{}, err
	}
	run := Run{
		ID:             uuid.NewString(),
		StrategyID:     req.StrategyID,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Start:          req.Start,
		End:            req.End,
		Status:         StatusPending,
		InitialBalance: decimal.NewFromFloat(req.InitialBalance),
		FinalBalance:   decimal.NewFromFloat(req.InitialBalance),
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}
	var metaJSON []byte
	if len(run.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(run.Metadata)
		if err != nil {
			return Run{}, ConfigurationError("metadata is not serializable: %v", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, strategy_id, symbol, timeframe, start_time, end_time, status,
		                  initial_balance, final_balance, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StrategyID, run.Symbol, run.Timeframe, run.Start, run.End, run.Status,
		run.InitialBalance.String(), run.FinalBalance.String(), nullableString(string(metaJSON)),
		run.CreatedAt.UnixMilli())
	if err != nil {
		return Run{}, PersistenceError(err, "create run")
	}
	return run, nil
}

// UpdateRunStatus transitions a run; running sets started_at, terminal
// statuses set finished_at.
func (s *ResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	now := time.Now().UnixMilli()
	var err error
	switch {
	case status == StatusRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status=?, message=?, started_at=? WHERE id=?`,
			status, message, now, runID)
	case Terminal(status):
		_, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status=?, message=?, finished_at=? WHERE id=?`,
			status, message, now, runID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status=?, message=? WHERE id=?`, status, message, runID)
	}
	if err != nil {
		return PersistenceError(err, "update run %s status", runID)
	}
	return nil
}

// CommitResult writes the run outcome, its trades and its equity curve in
// one transaction. Either everything lands or nothing does.
func (s *ResultStore) CommitResult(ctx context.Context, res Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PersistenceError(err, "begin commit for run %s", res.RunID)
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET status=?, final_balance=?, message=?, finished_at=? WHERE id=?`,
		res.Status, res.FinalBalance.String(), res.Message, now, res.RunID); err != nil {
		_ = tx.Rollback()
		return PersistenceError(err, "commit run %s", res.RunID)
	}
	for _, t := range res.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades (run_id, symbol, side, entry_time, exit_time,
			                    entry_price, exit_price, size, quantity, pnl, pnl_pct, fees, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, t.Symbol, t.Side, t.EntryTime, t.ExitTime,
			t.EntryPrice.String(), t.ExitPrice.String(), t.Size.String(), t.Quantity.String(),
			t.Pnl.String(), t.PnlPct.String(), t.Fees.String(), t.Reason); err != nil {
			_ = tx.Rollback()
			return PersistenceError(err, "commit trades for run %s", res.RunID)
		}
	}
	for _, p := range res.Equity {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO equity (run_id, ts, balance) VALUES (?, ?, ?)
			ON CONFLICT(run_id, ts) DO UPDATE SET balance=excluded.balance`,
			res.RunID, p.Time, p.Balance.String()); err != nil {
			_ = tx.Rollback()
			return PersistenceError(err, "commit equity for run %s", res.RunID)
		}
	}
	if err := tx.Commit(); err != nil {
		return PersistenceError(err, "commit run %s", res.RunID)
	}
	return nil
}

// SaveStats stores the performance summary on a completed run.
func (s *ResultStore) SaveStats(ctx context.Context, runID string, stats *Stats) error {
	if stats == nil {
		return nil
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return PersistenceError(err, "serialize stats for run %s", runID)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE runs SET stats_json=? WHERE id=?`, string(raw), runID); err != nil {
		return PersistenceError(err, "save stats for run %s", runID)
	}
	return nil
}

// GetRun loads one run by id.
func (s *ResultStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, symbol, timeframe, start_time, end_time, status,
		       initial_balance, final_balance, metadata_json, stats_json, message,
		       created_at, started_at, finished_at
		FROM runs WHERE id=?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ConfigurationError("run not found: %s", runID)
	}
	if err != nil {
		return Run{}, PersistenceError(err, "load run %s", runID)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by strategy.
func (s *ResultStore) ListRuns(ctx context.Context, strategyID string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, strategy_id, symbol, timeframe, start_time, end_time, status,
		       initial_balance, final_balance, metadata_json, stats_json, message,
		       created_at, started_at, finished_at
		FROM runs`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id=?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, PersistenceError(err, "list runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, PersistenceError(err, "list runs")
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// ListNonTerminal returns ids of runs stuck pending or running, oldest
// first. Used at startup to requeue work interrupted by a shutdown.
func (s *ResultStore) ListNonTerminal(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE status IN (?, ?) ORDER BY created_at ASC`,
		StatusPending, StatusRunning)
	if err != nil {
		return nil, PersistenceError(err, "list non-terminal runs")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, PersistenceError(err, "list non-terminal runs")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetStale flips interrupted running runs back to pending so they can be
// resubmitted cleanly.
func (s *ResultStore) ResetStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, message='requeued after restart' WHERE status=?`,
		StatusPending, StatusRunning)
	if err != nil {
		return 0, PersistenceError(err, "reset stale runs")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListTrades returns the trade log of one run in entry order.
func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, symbol, side, entry_time, exit_time,
		       entry_price, exit_price, size, quantity, pnl, pnl_pct, fees, reason
		FROM trades WHERE run_id=? ORDER BY entry_time ASC, id ASC`, runID)
	if err != nil {
		return nil, PersistenceError(err, "list trades for run %s", runID)
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var entryPrice, exitPrice, size, quantity, pnl, pnlPct, fees string
		var reason sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Side, &t.EntryTime, &t.ExitTime,
			&entryPrice, &exitPrice, &size, &quantity, &pnl, &pnlPct, &fees, &reason); err != nil {
			return nil, PersistenceError(err, "list trades for run %s", runID)
		}
		if t.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
			return nil, PersistenceError(err, "trade %d entry_price corrupt", t.ID)
		}
		if t.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
			return nil, PersistenceError(err, "trade %d exit_price corrupt", t.ID)
		}
		if t.Size, err = decimal.NewFromString(size); err != nil {
			return nil, PersistenceError(err, "trade %d size corrupt", t.ID)
		}
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, PersistenceError(err, "trade %d quantity corrupt", t.ID)
		}
		if t.Pnl, err = decimal.NewFromString(pnl); err != nil {
			return nil, PersistenceError(err, "trade %d pnl corrupt", t.ID)
		}
		if t.PnlPct, err = decimal.NewFromString(pnlPct); err != nil {
			return nil, PersistenceError(err, "trade %d pnl_pct corrupt", t.ID)
		}
		if t.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, PersistenceError(err, "trade %d fees corrupt", t.ID)
		}
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListEquity returns the balance curve of one run, ascending by time.
func (s *ResultStore) ListEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, balance FROM equity WHERE run_id=? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, PersistenceError(err, "list equity for run %s", runID)
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		var balance string
		if err := rows.Scan(&p.Time, &balance); err != nil {
			return nil, PersistenceError(err, "list equity for run %s", runID)
		}
		if p.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, PersistenceError(err, "equity point %d corrupt", p.Time)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var initial string
	var final, metaJSON, statsJSON, message sql.NullString
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64
	err := row.Scan(&run.ID, &run.StrategyID, &run.Symbol, &run.Timeframe, &run.Start, &run.End,
		&run.Status, &initial, &final, &metaJSON, &statsJSON, &message,
		&createdAt, &startedAt, &finishedAt)
	if err != nil {
		return Run{}, err
	}
	if run.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return Run{}, fmt.Errorf("run %s initial_balance corrupt: %w", run.ID, err)
	}
	if final.Valid && final.String != "" {
		if run.FinalBalance, err = decimal.NewFromString(final.String); err != nil {
			return Run{}, fmt.Errorf("run %s final_balance corrupt: %w", run.ID, err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &run.Metadata); err != nil {
			return Run{}, fmt.Errorf("run %s metadata corrupt: %w", run.ID, err)
		}
	}
	if statsJSON.Valid && statsJSON.String != "" {
		run.Stats = &Stats{}
		if err := json.Unmarshal([]byte(statsJSON.String), run.Stats); err != nil {
			return Run{}, fmt.Errorf("run %s stats corrupt: %w", run.ID, err)
		}
	}
	run.Message = message.String
	run.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &t
	}
	return run, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
