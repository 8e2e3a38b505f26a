package indicator

import (
	"testing"

	"backlab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestComputeSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)
	s, err := Compute("sma", candles, Params{"period": 3}, "")
	require.NoError(t, err)
	require.Equal(t, 5, s.Len())

	_, ok := s.At(0)
	assert.False(t, ok, "warm-up values are undefined")
	_, ok = s.At(1)
	assert.False(t, ok)

	v, ok := s.At(2)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(2)), "sma(1,2,3) = 2, got %s", v)
	v, ok = s.At(4)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(4)))
}

func TestComputeUnknownIndicator(t *testing.T) {
	_, err := Compute("vwap9000", candlesFromCloses(1, 2), nil, "")
	assert.Error(t, err)
}

func TestComputeWarmupLongerThanSeries(t *testing.T) {
	s, err := Compute("sma", candlesFromCloses(1, 2, 3), Params{"period": 10}, "")
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	for i := 0; i < s.Len(); i++ {
		_, ok := s.At(i)
		assert.False(t, ok)
	}
}

func TestComputeEmptySeries(t *testing.T) {
	s, err := Compute("rsi", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("SMA"))
	assert.True(t, Known("bollinger_upper"))
	assert.False(t, Known("supertrend"))
}

func TestRefKeyCanonical(t *testing.T) {
	a := Ref{Name: "macd", Params: Params{"fast_period": 12, "slow_period": 26}}
	b := Ref{Name: "MACD ", Params: Params{"slow_period": 26, "fast_period": 12}}
	assert.Equal(t, a.Key(), b.Key())

	c := Ref{Name: "sma", Params: Params{"period": 20}, Field: market.PriceHigh}
	d := Ref{Name: "sma", Params: Params{"period": 20}}
	assert.NotEqual(t, c.Key(), d.Key())
}

func TestBuildCacheDedup(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5, 6)
	refs := []Ref{
		{Name: "sma", Params: Params{"period": 2}},
		{Name: "sma", Params: Params{"period": 2}},
		{Name: "ema", Params: Params{"period": 2}},
	}
	cache, err := BuildCache(candles, refs)
	require.NoError(t, err)
	assert.Equal(t, 6, cache.Len())

	s, ok := cache.Lookup(refs[0])
	require.True(t, ok)
	assert.Equal(t, 6, s.Len())

	_, ok = cache.Lookup(Ref{Name: "rsi"})
	assert.False(t, ok)
}
