package backtest

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

const dayMillis = int64(24 * 60 * 60 * 1000)

// buildEquityCurve produces the persisted balance curve: one point at the
// first trade's entry holding the initial balance, then one per exit.
func buildEquityCurve(initial decimal.Decimal, trades []Trade) []EquityPoint {
	if len(trades) == 0 {
		return nil
	}
	curve := make([]EquityPoint, 0, len(trades)+1)
	curve = append(curve, EquityPoint{Time: trades[0].EntryTime, Balance: initial})
	balance := initial
	for _, t := range trades {
		balance = balance.Add(t.Pnl)
		curve = append(curve, EquityPoint{Time: t.ExitTime, Balance: balance})
	}
	return curve
}

// computeStats summarizes a completed run. Callers must not invoke it for
// failed or canceled runs; with zero trades it returns nil. The result
// depends only on its inputs, so recomputation is idempotent.
func computeStats(initial decimal.Decimal, trades []Trade, equity []EquityPoint) *Stats {
	if len(trades) == 0 {
		return nil
	}
	s := &Stats{TotalTrades: len(trades)}

	var sumWin, sumLoss decimal.Decimal
	for _, t := range trades {
		switch {
		case t.Pnl.IsPositive():
			s.WinningTrades++
			sumWin = sumWin.Add(t.Pnl)
			if t.Pnl.GreaterThan(s.LargestWin) {
				s.LargestWin = t.Pnl
			}
		case t.Pnl.IsNegative():
			s.LosingTrades++
			sumLoss = sumLoss.Add(t.Pnl.Abs())
			if t.Pnl.Abs().GreaterThan(s.LargestLoss) {
				s.LargestLoss = t.Pnl.Abs()
			}
		}
	}
	total := decimal.NewFromInt(int64(s.TotalTrades))
	winFrac := decimal.NewFromInt(int64(s.WinningTrades)).Div(total)
	s.WinRate = winFrac.Mul(hundred)
	s.GrossProfit = sumWin
	s.GrossLoss = sumLoss
	s.NetProfit = sumWin.Sub(sumLoss)
	if initial.IsPositive() {
		s.NetProfitPct = s.NetProfit.Div(initial).Mul(hundred)
	}
	if sumLoss.IsPositive() {
		s.ProfitFactor = sumWin.Div(sumLoss)
	} else {
		// Nothing lost: report the raw gross profit rather than infinity.
		s.ProfitFactor = sumWin
	}
	if s.WinningTrades > 0 {
		s.AvgWin = sumWin.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	// The loss weight is 1-win_rate, so break-even trades count on the
	// loss side of the expectancy.
	s.Expectancy = winFrac.Mul(s.AvgWin).Sub(decimal.NewFromInt(1).Sub(winFrac).Mul(s.AvgLoss))
	s.MaxDrawdown, s.MaxDrawdownPct, s.MaxDrawdownPeakTime, s.MaxDrawdownTroughTime = maxDrawdown(initial, equity)
	s.MaxWinStreak, s.MaxLossStreak, s.ConsecutiveLosses = lossStreaks(trades)
	s.SharpeRatio, s.SortinoRatio = riskAdjusted(initial, trades)
	return s
}

// riskAdjusted computes daily Sharpe and Sortino ratios. Each day's pnl
// becomes a return ratio against the initial balance, not a compounding
// one. With no losing days the downside deviation falls back to 1.0 so
// the Sortino denominator stays finite.
func riskAdjusted(initial decimal.Decimal, trades []Trade) (sharpe, sortino decimal.Decimal) {
	if !initial.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	pnlByDay := make(map[int64]decimal.Decimal)
	for _, t := range trades {
		day := t.ExitTime / dayMillis
		pnlByDay[day] = pnlByDay[day].Add(t.Pnl)
	}
	days := make([]int64, 0, len(pnlByDay))
	for d := range pnlByDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	returns := make([]float64, 0, len(days))
	for _, d := range days {
		r, _ := pnlByDay[d].Div(initial).Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return decimal.Zero, decimal.Zero
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance, downside float64
	var downCount int
	for _, r := range returns {
		dev := r - mean
		variance += dev * dev
		if r < 0 {
			downside += r * r
			downCount++
		}
	}
	stdev := math.Sqrt(variance / float64(len(returns)))
	if stdev > 0 {
		sharpe = decimal.NewFromFloat(mean / stdev)
	}
	downDev := 1.0
	if downCount > 0 {
		downDev = math.Sqrt(downside / float64(len(returns)))
	}
	if downDev > 0 {
		sortino = decimal.NewFromFloat(mean / downDev)
	}
	return sharpe, sortino
}
