package backtest

import (
	"strings"

	"backlab/internal/indicator"
	"backlab/internal/market"
	"backlab/internal/strategy"

	"github.com/shopspring/decimal"
)

// evaluate walks a rule tree at candle index idx against precomputed
// indicator series. A condition touching an undefined (warm-up) value is
// false, never an error; malformed nodes error out.
func evaluate(rule strategy.RuleTree, idx int, cache *indicator.Cache) (bool, error) {
	if rule.IsCombinator() {
		op := strings.ToLower(rule.Operator)
		for _, child := range rule.Children {
			hit, err := evaluate(child, idx, cache)
			if err != nil {
				return false, err
			}
			if op == strategy.OpAnd && !hit {
				return false, nil
			}
			if op == strategy.OpOr && hit {
				return true, nil
			}
		}
		return op == strategy.OpAnd, nil
	}
	if !rule.IsCondition() {
		return false, RuleEvaluationError("rule node is neither combinator nor condition")
	}

	left, ok := cache.Lookup(indicator.Ref{
		Name:   rule.Indicator,
		Params: indicator.Params(rule.Params),
		Field:  market.PriceField(rule.Field),
	})
	if !ok {
		return false, RuleEvaluationError("indicator %s missing from cache", rule.Indicator)
	}

	var target, prevTarget func(int) (decimal.Decimal, bool)
	switch {
	case rule.Value != nil:
		v := decimal.NewFromFloat(*rule.Value)
		target = func(int) (decimal.Decimal, bool) { return v, true }
		prevTarget = target
	case rule.CompareTo != nil:
		right, ok := cache.Lookup(indicator.Ref{
			Name:   rule.CompareTo.Indicator,
			Params: indicator.Params(rule.CompareTo.Params),
			Field:  market.PriceField(rule.CompareTo.Field),
		})
		if !ok {
			return false, RuleEvaluationError("indicator %s missing from cache", rule.CompareTo.Indicator)
		}
		target = right.At
		prevTarget = right.At
	default:
		return false, RuleEvaluationError("condition on %s has no comparison target", rule.Indicator)
	}

	cur, ok := left.At(idx)
	if !ok {
		return false, nil
	}
	tgt, ok := target(idx)
	if !ok {
		return false, nil
	}

	switch strings.ToLower(rule.Comparator) {
	case strategy.CompareAbove:
		return cur.GreaterThan(tgt), nil
	case strategy.CompareBelow:
		return cur.LessThan(tgt), nil
	case strategy.CompareEquals:
		return cur.Equal(tgt), nil
	case strategy.CompareCrossesAbove, strategy.CompareCrossesBelow:
		if idx == 0 {
			return false, nil
		}
		prev, ok := left.At(idx - 1)
		if !ok {
			return false, nil
		}
		prevTgt, ok := prevTarget(idx - 1)
		if !ok {
			return false, nil
		}
		if strings.ToLower(rule.Comparator) == strategy.CompareCrossesAbove {
			return cur.GreaterThan(tgt) && prev.LessThanOrEqual(prevTgt), nil
		}
		return cur.LessThan(tgt) && prev.GreaterThanOrEqual(prevTgt), nil
	default:
		return false, RuleEvaluationError("unknown comparator: %s", rule.Comparator)
	}
}
