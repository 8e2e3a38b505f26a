package backtest

import (
	"github.com/shopspring/decimal"
)

// defaultRiskPct is the fraction of the current balance committed per
// trade when neither the strategy nor the run says otherwise.
var defaultRiskPct = decimal.NewFromFloat(0.02)

// positionSize decides how much of the balance one entry commits.
// Priority: strategy config risk_per_trade (fraction of balance), then
// run metadata position_size (absolute amount), then 2% of balance.
// The result is clamped to [0, balance].
func positionSize(balance decimal.Decimal, strategyConfig, runMetadata map[string]any) decimal.Decimal {
	var size decimal.Decimal
	if risk, ok := metadataFloat(strategyConfig, "risk_per_trade"); ok && risk > 0 && risk <= 1 {
		size = balance.Mul(decimal.NewFromFloat(risk))
	} else if abs, ok := metadataFloat(runMetadata, "position_size"); ok && abs > 0 {
		size = decimal.NewFromFloat(abs)
	} else {
		size = balance.Mul(defaultRiskPct)
	}
	if size.GreaterThan(balance) {
		size = balance
	}
	if size.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return size
}

// maxDrawdown walks the equity curve once, tracking the running peak.
// Returns the largest absolute drop, the drop as a percentage of the
// peak it fell from, and the timestamps of that peak and trough.
func maxDrawdown(initial decimal.Decimal, equity []EquityPoint) (abs, pct decimal.Decimal, peakTime, troughTime int64) {
	peak := initial
	var peakAt int64
	if len(equity) > 0 {
		peakAt = equity[0].Time
	}
	for _, p := range equity {
		if p.Balance.GreaterThan(peak) {
			peak = p.Balance
			peakAt = p.Time
			continue
		}
		drop := peak.Sub(p.Balance)
		if drop.GreaterThan(abs) {
			abs = drop
			peakTime = peakAt
			troughTime = p.Time
			if peak.IsPositive() {
				pct = drop.Div(peak).Mul(hundred)
			}
		}
	}
	return abs, pct, peakTime, troughTime
}

// lossStreaks returns the longest winning streak, the longest losing
// streak, and the losing streak still open at the end of the trade log.
func lossStreaks(trades []Trade) (maxWin, maxLoss, trailingLoss int) {
	var win, loss int
	for _, t := range trades {
		if t.Pnl.IsPositive() {
			win++
			loss = 0
		} else if t.Pnl.IsNegative() {
			loss++
			win = 0
		} else {
			win, loss = 0, 0
		}
		if win > maxWin {
			maxWin = win
		}
		if loss > maxLoss {
			maxLoss = loss
		}
	}
	return maxWin, maxLoss, loss
}
