package market

// Candle is one OHLCV sample. Times are Unix milliseconds; OpenTime is the
// primary key within a (symbol, timeframe) dataset.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// PriceField selects which candle component an indicator consumes.
type PriceField string

const (
	PriceOpen   PriceField = "open"
	PriceHigh   PriceField = "high"
	PriceLow    PriceField = "low"
	PriceClose  PriceField = "close"
	PriceVolume PriceField = "volume"
)

// Price returns the selected component; unknown fields fall back to close.
func (c Candle) Price(field PriceField) float64 {
	switch field {
	case PriceOpen:
		return c.Open
	case PriceHigh:
		return c.High
	case PriceLow:
		return c.Low
	case PriceVolume:
		return c.Volume
	default:
		return c.Close
	}
}

// Extract returns one column of the series for indicator computation.
func Extract(candles []Candle, field PriceField) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Price(field)
	}
	return out
}
