package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeBookRoundTrip(t *testing.T) {
	book := newTradeBook("BTCUSDT", decimal.NewFromInt(10000))
	candles := candlesFromCloses(100, 110)

	require.True(t, book.openPosition(candles[0], decimal.NewFromInt(2000)))
	assert.True(t, book.hasPosition())
	assert.False(t, book.openPosition(candles[0], decimal.NewFromInt(1000)), "only one open position")

	trade, ok := book.closePosition(candles[1], "exit rules")
	require.True(t, ok)
	assert.False(t, book.hasPosition())

	// 2000 at 100 buys 20 units; exit at 110 earns 200.
	assert.True(t, trade.Quantity.Equal(decimal.NewFromInt(20)), "quantity %s", trade.Quantity)
	assert.True(t, trade.Pnl.Equal(decimal.NewFromInt(200)), "pnl %s", trade.Pnl)
	// pnl over the entry price: 200/100*100.
	assert.True(t, trade.PnlPct.Equal(decimal.NewFromInt(200)), "pnl_pct %s", trade.PnlPct)
	assert.True(t, trade.Fees.IsZero())
	assert.Equal(t, "long", trade.Side)
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(10200)), "balance %s", book.Balance())
}

func TestTradeBookLosingTrade(t *testing.T) {
	book := newTradeBook("BTCUSDT", decimal.NewFromInt(1000))
	candles := candlesFromCloses(100, 90)

	require.True(t, book.openPosition(candles[0], decimal.NewFromInt(500)))
	trade, ok := book.closePosition(candles[1], "exit rules")
	require.True(t, ok)
	assert.True(t, trade.Pnl.Equal(decimal.NewFromInt(-50)))
	assert.True(t, trade.PnlPct.Equal(decimal.NewFromInt(-50)), "pnl_pct %s", trade.PnlPct)
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(950)))
}

func TestTradeBookSizeCappedAtBalance(t *testing.T) {
	book := newTradeBook("BTCUSDT", decimal.NewFromInt(100))
	candles := candlesFromCloses(50, 60)

	require.True(t, book.openPosition(candles[0], decimal.NewFromInt(5000)))
	trade, ok := book.closePosition(candles[1], "exit rules")
	require.True(t, ok)
	assert.True(t, trade.Size.Equal(decimal.NewFromInt(100)), "size clamps to balance, got %s", trade.Size)
}

func TestTradeBookRejectsBadEntries(t *testing.T) {
	book := newTradeBook("BTCUSDT", decimal.NewFromInt(1000))
	candles := candlesFromCloses(100)

	assert.False(t, book.openPosition(candles[0], decimal.Zero))
	assert.False(t, book.openPosition(candles[0], decimal.NewFromInt(-5)))
	_, ok := book.closePosition(candles[0], "exit rules")
	assert.False(t, ok, "nothing to close")
}
