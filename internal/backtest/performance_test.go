package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTrade(entryTime, exitTime int64, pnl float64) Trade {
	return Trade{
		EntryTime: entryTime,
		ExitTime:  exitTime,
		Pnl:       decimal.NewFromFloat(pnl),
	}
}

func TestPositionSizePriority(t *testing.T) {
	balance := decimal.NewFromInt(10000)

	t.Run("strategy risk fraction wins", func(t *testing.T) {
		size := positionSize(balance, map[string]any{"risk_per_trade": 0.05}, map[string]any{"position_size": 9999.0})
		assert.True(t, size.Equal(decimal.NewFromInt(500)), "got %s", size)
	})

	t.Run("run metadata absolute size", func(t *testing.T) {
		size := positionSize(balance, nil, map[string]any{"position_size": 2000.0})
		assert.True(t, size.Equal(decimal.NewFromInt(2000)))
	})

	t.Run("default two percent", func(t *testing.T) {
		size := positionSize(balance, nil, nil)
		assert.True(t, size.Equal(decimal.NewFromInt(200)))
	})

	t.Run("clamped to balance", func(t *testing.T) {
		size := positionSize(decimal.NewFromInt(100), nil, map[string]any{"position_size": 500.0})
		assert.True(t, size.Equal(decimal.NewFromInt(100)))
	})
}

func TestMaxDrawdown(t *testing.T) {
	initial := decimal.NewFromInt(1000)
	equity := []EquityPoint{
		{Time: 1, Balance: decimal.NewFromInt(1200)},
		{Time: 2, Balance: decimal.NewFromInt(900)},
		{Time: 3, Balance: decimal.NewFromInt(1100)},
		{Time: 4, Balance: decimal.NewFromInt(1000)},
	}
	abs, pct, peakTime, troughTime := maxDrawdown(initial, equity)
	assert.True(t, abs.Equal(decimal.NewFromInt(300)), "got %s", abs)
	assert.True(t, pct.Equal(decimal.NewFromInt(25)), "got %s", pct)
	assert.Equal(t, int64(1), peakTime, "peak at the 1200 point")
	assert.Equal(t, int64(2), troughTime, "trough at the 900 point")

	t.Run("flat curve", func(t *testing.T) {
		abs, pct, peakTime, troughTime := maxDrawdown(initial, []EquityPoint{{Time: 1, Balance: initial}})
		assert.True(t, abs.IsZero())
		assert.True(t, pct.IsZero())
		assert.Zero(t, peakTime)
		assert.Zero(t, troughTime)
	})
}

func TestBuildEquityCurve(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	trades := []Trade{
		mkTrade(100, 200, 200),
		mkTrade(300, 400, -50),
	}
	curve := buildEquityCurve(initial, trades)
	require.Len(t, curve, 3)
	assert.Equal(t, int64(100), curve[0].Time)
	assert.True(t, curve[0].Balance.Equal(initial), "curve starts at the initial balance")
	assert.True(t, curve[1].Balance.Equal(decimal.NewFromInt(10200)))
	assert.True(t, curve[2].Balance.Equal(decimal.NewFromInt(10150)))

	assert.Nil(t, buildEquityCurve(initial, nil))
}

func TestComputeStats(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	trades := []Trade{
		mkTrade(1*dayMillis, 1*dayMillis+1000, 300),
		mkTrade(2*dayMillis, 2*dayMillis+1000, -100),
		mkTrade(3*dayMillis, 3*dayMillis+1000, 200),
		mkTrade(4*dayMillis, 4*dayMillis+1000, -100),
	}
	equity := buildEquityCurve(initial, trades)
	stats := computeStats(initial, trades, equity)
	require.NotNil(t, stats)

	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 2, stats.LosingTrades)
	assert.True(t, stats.WinRate.Equal(decimal.NewFromInt(50)), "win rate %s", stats.WinRate)
	assert.True(t, stats.GrossProfit.Equal(decimal.NewFromInt(500)))
	assert.True(t, stats.GrossLoss.Equal(decimal.NewFromInt(200)))
	assert.True(t, stats.NetProfit.Equal(decimal.NewFromInt(300)))
	assert.True(t, stats.NetProfitPct.Equal(decimal.NewFromInt(3)))
	assert.True(t, stats.ProfitFactor.Equal(decimal.NewFromFloat(2.5)), "profit factor %s", stats.ProfitFactor)
	assert.True(t, stats.Expectancy.Equal(decimal.NewFromInt(75)))
	assert.True(t, stats.AvgWin.Equal(decimal.NewFromInt(250)))
	assert.True(t, stats.AvgLoss.Equal(decimal.NewFromInt(100)))
	assert.True(t, stats.LargestWin.Equal(decimal.NewFromInt(300)))
	assert.True(t, stats.LargestLoss.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, stats.MaxWinStreak)
	assert.Equal(t, 1, stats.MaxLossStreak)
	assert.Equal(t, 1, stats.ConsecutiveLosses)
	assert.True(t, stats.MaxDrawdown.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1*dayMillis+1000, stats.MaxDrawdownPeakTime)
	assert.Equal(t, 2*dayMillis+1000, stats.MaxDrawdownTroughTime)

	t.Run("idempotent", func(t *testing.T) {
		again := computeStats(initial, trades, equity)
		assert.Equal(t, stats, again)
	})
}

func TestComputeStatsNoLosses(t *testing.T) {
	initial := decimal.NewFromInt(1000)
	trades := []Trade{
		mkTrade(1*dayMillis, 1*dayMillis+1, 100),
		mkTrade(2*dayMillis, 2*dayMillis+1, 50),
	}
	stats := computeStats(initial, trades, buildEquityCurve(initial, trades))
	require.NotNil(t, stats)
	// No losing trades: the profit factor reports the raw gross profit.
	assert.True(t, stats.ProfitFactor.Equal(decimal.NewFromInt(150)), "got %s", stats.ProfitFactor)
	assert.True(t, stats.SortinoRatio.GreaterThan(decimal.Zero), "downside deviation falls back to 1.0")
}

func TestComputeStatsNoTrades(t *testing.T) {
	assert.Nil(t, computeStats(decimal.NewFromInt(1000), nil, nil))
}

func TestComputeStatsBreakEvenTrades(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	trades := []Trade{
		mkTrade(1*dayMillis, 1*dayMillis+1, 300),
		mkTrade(2*dayMillis, 2*dayMillis+1, 0),
		mkTrade(3*dayMillis, 3*dayMillis+1, -100),
	}
	stats := computeStats(initial, trades, buildEquityCurve(initial, trades))
	require.NotNil(t, stats)

	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades, "break-even trades count neither side")

	// win_rate*avg_win - (1-win_rate)*avg_loss with win_rate 1/3: the
	// break-even trade lands in the 1-win_rate weight.
	got, _ := stats.Expectancy.Float64()
	assert.InDelta(t, (300.0-2*100.0)/3, got, 1e-9)
}

func TestRiskAdjustedAgainstInitialBalance(t *testing.T) {
	initial := decimal.NewFromInt(1000)

	t.Run("identical daily pnl gives zero sharpe", func(t *testing.T) {
		trades := []Trade{
			mkTrade(1*dayMillis, 1*dayMillis+1, 500),
			mkTrade(2*dayMillis, 2*dayMillis+1, 500),
		}
		sharpe, sortino := riskAdjusted(initial, trades)
		assert.True(t, sharpe.IsZero(), "equal returns have zero deviation, got %s", sharpe)
		assert.True(t, sortino.GreaterThan(decimal.Zero), "downside fallback keeps sortino finite")
	})

	t.Run("a wiped-out day does not truncate the series", func(t *testing.T) {
		trades := []Trade{
			mkTrade(1*dayMillis, 1*dayMillis+1, -1500),
			mkTrade(2*dayMillis, 2*dayMillis+1, 100),
			mkTrade(3*dayMillis, 3*dayMillis+1, 100),
		}
		sharpe, _ := riskAdjusted(initial, trades)
		assert.False(t, sharpe.IsZero(), "all three daily returns must count")
	})
}
