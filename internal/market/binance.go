package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

const maxKlineLimit = 1500

// BinanceSource fetches USDT-futures klines through the go-binance SDK.
type BinanceSource struct {
	client *futures.Client
}

type BinanceConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	if req.Symbol == "" || req.Interval == "" {
		return nil, fmt.Errorf("symbol/interval are required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Interval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines fetch failed: %w", err)
	}
	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
			Trades:    k.TradeNum,
		})
	}
	return out, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
