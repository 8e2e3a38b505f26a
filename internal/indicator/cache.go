package indicator

import (
	"fmt"
	"sort"
	"strings"

	"backlab/internal/market"
)

// Ref identifies one (indicator, params, price field) combination used by a
// rule tree.
type Ref struct {
	Name   string
	Params Params
	Field  market.PriceField
}

// Key returns a canonical cache key; parameter order does not matter.
func (r Ref) Key() string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Name)))
	if r.Field != "" && r.Field != market.PriceClose {
		b.WriteString("@")
		b.WriteString(string(r.Field))
	}
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%v", k, r.Params[k])
	}
	return b.String()
}

// Cache holds every indicator series a backtest run needs, computed once
// over the full candle series before the loop starts.
type Cache struct {
	series map[string]*Series
	length int
}

// BuildCache computes all referenced series. Duplicate refs collapse onto
// the same key.
func BuildCache(candles []market.Candle, refs []Ref) (*Cache, error) {
	c := &Cache{series: make(map[string]*Series, len(refs)), length: len(candles)}
	for _, ref := range refs {
		key := ref.Key()
		if _, ok := c.series[key]; ok {
			continue
		}
		s, err := Compute(ref.Name, candles, ref.Params, ref.Field)
		if err != nil {
			return nil, err
		}
		c.series[key] = s
	}
	return c, nil
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.length
}

// Lookup returns the series for a ref previously passed to BuildCache.
func (c *Cache) Lookup(ref Ref) (*Series, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.series[ref.Key()]
	return s, ok
}
