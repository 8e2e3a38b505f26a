package backtest

import (
	"backlab/internal/market"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// position is the single open long the simulator may hold.
type position struct {
	entryTime  int64
	entryPrice decimal.Decimal
	size       decimal.Decimal
	quantity   decimal.Decimal
}

// tradeBook simulates fills and keeps the append-only trade log. At most
// one position is open at any point; fees are always zero.
type tradeBook struct {
	symbol  string
	balance decimal.Decimal
	open    *position
	trades  []Trade
}

func newTradeBook(symbol string, initialBalance decimal.Decimal) *tradeBook {
	return &tradeBook{symbol: symbol, balance: initialBalance}
}

func (b *tradeBook) hasPosition() bool { return b.open != nil }

func (b *tradeBook) Balance() decimal.Decimal { return b.balance }

// openPosition enters a long at the candle close. Size is capped at the
// current balance; a non-positive size is a no-op.
func (b *tradeBook) openPosition(c market.Candle, size decimal.Decimal) bool {
	if b.open != nil || size.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if size.GreaterThan(b.balance) {
		size = b.balance
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return false
	}
	price := decimal.NewFromFloat(c.Close)
	if price.LessThanOrEqual(decimal.Zero) {
		return false
	}
	b.open = &position{
		entryTime:  c.OpenTime,
		entryPrice: price,
		size:       size,
		quantity:   size.Div(price),
	}
	return true
}

// closePosition exits the open long at the candle close and records the
// trade. Returns the recorded trade and true, or a zero trade and false
// when nothing is open.
func (b *tradeBook) closePosition(c market.Candle, reason string) (Trade, bool) {
	if b.open == nil {
		return Trade{}, false
	}
	exitPrice := decimal.NewFromFloat(c.Close)
	pnl := exitPrice.Sub(b.open.entryPrice).Mul(b.open.quantity)
	pnlPct := decimal.Zero
	if !b.open.entryPrice.IsZero() {
		// pnl relative to the entry price, not the position notional.
		pnlPct = pnl.Div(b.open.entryPrice).Mul(hundred)
	}
	b.balance = b.balance.Add(pnl)
	trade := Trade{
		Symbol:     b.symbol,
		Side:       "long",
		EntryTime:  b.open.entryTime,
		ExitTime:   c.OpenTime,
		EntryPrice: b.open.entryPrice,
		ExitPrice:  exitPrice,
		Size:       b.open.size,
		Quantity:   b.open.quantity,
		Pnl:        pnl,
		PnlPct:     pnlPct,
		Fees:       decimal.Zero,
		Reason:     reason,
	}
	b.trades = append(b.trades, trade)
	b.open = nil
	return trade, true
}
