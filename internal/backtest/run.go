package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Run statuses. Completed, failed and canceled are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Terminal reports whether a status can no longer change.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// RunRequest is the caller-facing configuration of one backtest.
type RunRequest struct {
	StrategyID     string         `json:"strategy_id"`
	Symbol         string         `json:"symbol"`
	Timeframe      string         `json:"timeframe"`
	Start          int64          `json:"start"`
	End            int64          `json:"end"`
	InitialBalance float64        `json:"initial_balance"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (r RunRequest) validate() error {
	if strings.TrimSpace(r.StrategyID) == "" {
		return ConfigurationError("strategy_id cannot be empty")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return ConfigurationError("symbol cannot be empty")
	}
	if strings.TrimSpace(r.Timeframe) == "" {
		return ConfigurationError("timeframe cannot be empty")
	}
	if r.Start <= 0 || r.End <= 0 || r.End <= r.Start {
		return ConfigurationError("date range [%d,%d] is not a valid interval", r.Start, r.End)
	}
	if r.InitialBalance <= 0 {
		return ConfigurationError("initial_balance must be positive, got %v", r.InitialBalance)
	}
	return nil
}

// Run is one backtest execution record.
type Run struct {
	ID             string          `json:"id"`
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	Start          int64           `json:"start"`
	End            int64           `json:"end"`
	Status         string          `json:"status"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Stats          *Stats          `json:"stats,omitempty"`
	Message        string          `json:"message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// Trade is one closed round trip. Fees are recorded but always zero in
// simulation.
type Trade struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	EntryTime  int64           `json:"entry_time"`
	ExitTime   int64           `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Size       decimal.Decimal `json:"size"`
	Quantity   decimal.Decimal `json:"quantity"`
	Pnl        decimal.Decimal `json:"pnl"`
	PnlPct     decimal.Decimal `json:"pnl_pct"`
	Fees       decimal.Decimal `json:"fees"`
	Reason     string          `json:"reason,omitempty"`
}

// EquityPoint is one sample of the balance curve, taken at trade exits.
type EquityPoint struct {
	Time    int64           `json:"time"`
	Balance decimal.Decimal `json:"balance"`
}

// Stats is the performance summary computed after a completed run.
type Stats struct {
	TotalTrades           int             `json:"total_trades"`
	WinningTrades         int             `json:"winning_trades"`
	LosingTrades          int             `json:"losing_trades"`
	WinRate               decimal.Decimal `json:"win_rate"`
	GrossProfit           decimal.Decimal `json:"gross_profit"`
	GrossLoss             decimal.Decimal `json:"gross_loss"`
	NetProfit             decimal.Decimal `json:"net_profit"`
	NetProfitPct          decimal.Decimal `json:"net_profit_pct"`
	ProfitFactor          decimal.Decimal `json:"profit_factor"`
	MaxDrawdown           decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct        decimal.Decimal `json:"max_drawdown_pct"`
	MaxDrawdownPeakTime   int64           `json:"max_drawdown_peak_time"`
	MaxDrawdownTroughTime int64           `json:"max_drawdown_trough_time"`
	SharpeRatio           decimal.Decimal `json:"sharpe_ratio"`
	SortinoRatio          decimal.Decimal `json:"sortino_ratio"`
	Expectancy            decimal.Decimal `json:"expectancy"`
	AvgWin                decimal.Decimal `json:"avg_win"`
	AvgLoss               decimal.Decimal `json:"avg_loss"`
	LargestWin            decimal.Decimal `json:"largest_win"`
	LargestLoss           decimal.Decimal `json:"largest_loss"`
	MaxWinStreak          int             `json:"max_win_streak"`
	MaxLossStreak         int             `json:"max_loss_streak"`
	ConsecutiveLosses     int             `json:"consecutive_losses"`
}

// Result bundles everything the engine must persist atomically.
type Result struct {
	RunID        string
	Status       string
	FinalBalance decimal.Decimal
	Trades       []Trade
	Equity       []EquityPoint
	Message      string
}

func metadataFloat(md map[string]any, key string) (float64, bool) {
	if md == nil {
		return 0, false
	}
	switch v := md[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
