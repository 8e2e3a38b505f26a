package indicator

import (
	"fmt"
	"strings"

	"backlab/internal/market"

	talib "github.com/markcheno/go-talib"
)

// Params carries indicator parameters as parsed from a rule tree. Values
// arrive via JSON, so numbers are float64; accessors coerce.
type Params map[string]any

func (p Params) Int(key string, def int) int {
	if p == nil {
		return def
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func (p Params) Float(key string, def float64) float64 {
	if p == nil {
		return def
	}
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// definition binds a name to a talib computation and its warm-up length.
type definition struct {
	defaultField market.PriceField
	warmup       func(p Params) int
	compute      func(candles []market.Candle, p Params, field market.PriceField) []float64
}

func periodWarmup(def int) func(Params) int {
	return func(p Params) int { return p.Int("period", def) - 1 }
}

func singleInput(fn func(in []float64, period int) []float64, def int) func([]market.Candle, Params, market.PriceField) []float64 {
	return func(candles []market.Candle, p Params, field market.PriceField) []float64 {
		return fn(market.Extract(candles, field), p.Int("period", def))
	}
}

func hlcInput(fn func(high, low, close []float64, period int) []float64, def int) func([]market.Candle, Params, market.PriceField) []float64 {
	return func(candles []market.Candle, p Params, _ market.PriceField) []float64 {
		return fn(market.Extract(candles, market.PriceHigh),
			market.Extract(candles, market.PriceLow),
			market.Extract(candles, market.PriceClose),
			p.Int("period", def))
	}
}

var registry = map[string]definition{
	"sma": {defaultField: market.PriceClose, warmup: periodWarmup(20), compute: singleInput(talib.Sma, 20)},
	"ema": {defaultField: market.PriceClose, warmup: periodWarmup(20), compute: singleInput(talib.Ema, 20)},
	"wma": {defaultField: market.PriceClose, warmup: periodWarmup(20), compute: singleInput(talib.Wma, 20)},
	"rsi": {
		defaultField: market.PriceClose,
		warmup:       func(p Params) int { return p.Int("period", 14) },
		compute:      singleInput(talib.Rsi, 14),
	},
	"mom": {
		defaultField: market.PriceClose,
		warmup:       func(p Params) int { return p.Int("period", 10) },
		compute:      singleInput(talib.Mom, 10),
	},
	"roc": {
		defaultField: market.PriceClose,
		warmup:       func(p Params) int { return p.Int("period", 10) },
		compute:      singleInput(talib.Roc, 10),
	},
	"atr": {
		defaultField: market.PriceClose,
		warmup:       func(p Params) int { return p.Int("period", 14) },
		compute:      hlcInput(talib.Atr, 14),
	},
	"adx": {
		defaultField: market.PriceClose,
		warmup:       func(p Params) int { return 2*p.Int("period", 14) - 1 },
		compute:      hlcInput(talib.Adx, 14),
	},
	"cci": {defaultField: market.PriceClose, warmup: periodWarmup(20), compute: hlcInput(talib.Cci, 20)},
	"obv": {
		defaultField: market.PriceClose,
		warmup:       func(Params) int { return 0 },
		compute: func(candles []market.Candle, _ Params, _ market.PriceField) []float64 {
			return talib.Obv(market.Extract(candles, market.PriceClose), market.Extract(candles, market.PriceVolume))
		},
	},
	"macd":             macdDefinition(0),
	"macd_signal":      macdDefinition(1),
	"macd_hist":        macdDefinition(2),
	"bollinger_upper":  bbandsDefinition(0),
	"bollinger_middle": bbandsDefinition(1),
	"bollinger_lower":  bbandsDefinition(2),
	"stoch_k":          stochDefinition(0),
	"stoch_d":          stochDefinition(1),
}

func macdDefinition(output int) definition {
	return definition{
		defaultField: market.PriceClose,
		warmup: func(p Params) int {
			slow := p.Int("slow_period", 26)
			signal := p.Int("signal_period", 9)
			return slow + signal - 2
		},
		compute: func(candles []market.Candle, p Params, field market.PriceField) []float64 {
			macd, signal, hist := talib.Macd(market.Extract(candles, field),
				p.Int("fast_period", 12), p.Int("slow_period", 26), p.Int("signal_period", 9))
			switch output {
			case 1:
				return signal
			case 2:
				return hist
			default:
				return macd
			}
		},
	}
}

func bbandsDefinition(output int) definition {
	return definition{
		defaultField: market.PriceClose,
		warmup:       periodWarmup(20),
		compute: func(candles []market.Candle, p Params, field market.PriceField) []float64 {
			dev := p.Float("std_dev", 2)
			upper, middle, lower := talib.BBands(market.Extract(candles, field),
				p.Int("period", 20), dev, dev, talib.SMA)
			switch output {
			case 1:
				return middle
			case 2:
				return lower
			default:
				return upper
			}
		},
	}
}

func stochDefinition(output int) definition {
	return definition{
		defaultField: market.PriceClose,
		warmup: func(p Params) int {
			return p.Int("k_period", 14) + p.Int("k_slowing", 3) + p.Int("d_period", 3) - 3
		},
		compute: func(candles []market.Candle, p Params, _ market.PriceField) []float64 {
			k, d := talib.Stoch(
				market.Extract(candles, market.PriceHigh),
				market.Extract(candles, market.PriceLow),
				market.Extract(candles, market.PriceClose),
				p.Int("k_period", 14), p.Int("k_slowing", 3), talib.SMA,
				p.Int("d_period", 3), talib.SMA)
			if output == 1 {
				return d
			}
			return k
		},
	}
}

// Known reports whether name is a registered indicator.
func Known(name string) bool {
	_, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names lists the registered indicators.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// Compute evaluates one indicator over the full candle series. The result
// has the same length as candles, with warm-up positions marked undefined.
func Compute(name string, candles []market.Candle, params Params, field market.PriceField) (*Series, error) {
	def, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown indicator: %s", name)
	}
	if field == "" {
		field = def.defaultField
	}
	warmup := def.warmup(params)
	if len(candles) == 0 {
		return newSeries(nil, warmup), nil
	}
	if warmup >= len(candles) {
		// Entire series is inside the warm-up window; every value undefined.
		return newSeries(make([]float64, len(candles)), len(candles)), nil
	}
	raw := def.compute(candles, params, field)
	if len(raw) != len(candles) {
		return nil, fmt.Errorf("indicator %s produced %d values for %d candles", name, len(raw), len(candles))
	}
	return newSeries(raw, warmup), nil
}
