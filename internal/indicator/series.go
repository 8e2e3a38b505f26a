package indicator

import "github.com/shopspring/decimal"

// Series is one indicator output aligned index-for-index with its candle
// input. Leading warm-up positions are marked invalid; rules must treat
// them as undefined rather than zero.
type Series struct {
	values []decimal.Decimal
	valid  []bool
}

func newSeries(raw []float64, warmup int) *Series {
	s := &Series{
		values: make([]decimal.Decimal, len(raw)),
		valid:  make([]bool, len(raw)),
	}
	if warmup < 0 {
		warmup = 0
	}
	for i, v := range raw {
		s.values[i] = decimal.NewFromFloat(v)
		s.valid[i] = i >= warmup
	}
	return s
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// At returns the value at index i and whether it is defined.
func (s *Series) At(i int) (decimal.Decimal, bool) {
	if s == nil || i < 0 || i >= len(s.values) || !s.valid[i] {
		return decimal.Zero, false
	}
	return s.values[i], true
}
