package market

import "context"

// FetchRequest describes one remote candle request.
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64 // Unix ms
	End      int64 // Unix ms; 0 means open-ended
	Limit    int
}

// CandleSource abstracts an exchange/data-provider kline endpoint.
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candle, error)
	Name() string
}
