package strategy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestRuleTreeValidate(t *testing.T) {
	t.Run("valid condition", func(t *testing.T) {
		r := RuleTree{Indicator: "rsi", Comparator: CompareBelow, Value: floatPtr(30)}
		assert.NoError(t, r.Validate())
	})

	t.Run("valid combinator", func(t *testing.T) {
		r := RuleTree{
			Operator: OpAnd,
			Children: []RuleTree{
				{Indicator: "rsi", Comparator: CompareBelow, Value: floatPtr(30)},
				{Indicator: "sma", Comparator: CompareCrossesAbove, CompareTo: &IndicatorRef{Indicator: "ema"}},
			},
		}
		assert.NoError(t, r.Validate())
	})

	t.Run("combinator without children", func(t *testing.T) {
		r := RuleTree{Operator: OpOr}
		assert.Error(t, r.Validate())
	})

	t.Run("unknown indicator", func(t *testing.T) {
		r := RuleTree{Indicator: "supertrend", Comparator: CompareAbove, Value: floatPtr(1)}
		assert.Error(t, r.Validate())
	})

	t.Run("unknown comparator", func(t *testing.T) {
		r := RuleTree{Indicator: "rsi", Comparator: "near", Value: floatPtr(1)}
		assert.Error(t, r.Validate())
	})

	t.Run("both value and compare_to", func(t *testing.T) {
		r := RuleTree{
			Indicator:  "rsi",
			Comparator: CompareAbove,
			Value:      floatPtr(50),
			CompareTo:  &IndicatorRef{Indicator: "sma"},
		}
		assert.Error(t, r.Validate())
	})

	t.Run("neither value nor compare_to", func(t *testing.T) {
		r := RuleTree{Indicator: "rsi", Comparator: CompareAbove}
		assert.Error(t, r.Validate())
	})
}

func TestParseRuleTree(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		raw := json.RawMessage(`{
			"operator": "and",
			"children": [
				{"indicator": "rsi", "params": {"period": 14}, "comparator": "below", "value": 30},
				{"indicator": "sma", "comparator": "crosses_above", "compare_to": {"indicator": "ema", "params": {"period": 50}}}
			]
		}`)
		tree, err := ParseRuleTree(raw)
		require.NoError(t, err)
		assert.True(t, tree.IsCombinator())
		require.Len(t, tree.Children, 2)
		assert.Equal(t, "rsi", tree.Children[0].Indicator)
	})

	t.Run("unexpected field rejected by schema", func(t *testing.T) {
		raw := json.RawMessage(`{"indicator": "rsi", "comparator": "below", "value": 30, "bogus": 1}`)
		_, err := ParseRuleTree(raw)
		assert.Error(t, err)
	})

	t.Run("bad comparator rejected by schema", func(t *testing.T) {
		raw := json.RawMessage(`{"indicator": "rsi", "comparator": "near", "value": 30}`)
		_, err := ParseRuleTree(raw)
		assert.Error(t, err)
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := ParseRuleTree(json.RawMessage(`{`))
		assert.Error(t, err)
	})
}

func TestRuleTreeRefs(t *testing.T) {
	tree := RuleTree{
		Operator: OpOr,
		Children: []RuleTree{
			{Indicator: "rsi", Comparator: CompareBelow, Value: floatPtr(30)},
			{Indicator: "sma", Comparator: CompareAbove, CompareTo: &IndicatorRef{Indicator: "ema"}},
		},
	}
	refs := tree.Refs()
	require.Len(t, refs, 3)
	names := []string{refs[0].Name, refs[1].Name, refs[2].Name}
	assert.Equal(t, []string{"rsi", "sma", "ema"}, names)
}

func TestStrategyValidate(t *testing.T) {
	st := Strategy{
		Name:       "rsi dip",
		EntryRules: RuleTree{Indicator: "rsi", Comparator: CompareBelow, Value: floatPtr(30)},
		ExitRules:  RuleTree{Indicator: "rsi", Comparator: CompareAbove, Value: floatPtr(70)},
	}
	assert.NoError(t, st.Validate())

	st.Name = "   "
	assert.Error(t, st.Validate())
}
