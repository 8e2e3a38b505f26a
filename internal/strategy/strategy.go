package strategy

import (
	"fmt"
	"strings"
	"time"

	"backlab/internal/indicator"
	"backlab/internal/market"
)

// Comparator names accepted in rule conditions.
const (
	CompareAbove        = "above"
	CompareBelow        = "below"
	CompareEquals       = "equals"
	CompareCrossesAbove = "crosses_above"
	CompareCrossesBelow = "crosses_below"
)

// Combinator operators.
const (
	OpAnd = "and"
	OpOr  = "or"
)

var validComparators = map[string]bool{
	CompareAbove:        true,
	CompareBelow:        true,
	CompareEquals:       true,
	CompareCrossesAbove: true,
	CompareCrossesBelow: true,
}

// IndicatorRef names another indicator as the comparison target.
type IndicatorRef struct {
	Indicator string         `json:"indicator"`
	Params    map[string]any `json:"params,omitempty"`
	Field     string         `json:"field,omitempty"`
}

// RuleTree is a boolean expression over indicator conditions. A node is
// either a combinator (Operator + Children) or a condition leaf
// (Indicator + Comparator + Value or CompareTo); never both.
type RuleTree struct {
	Operator string     `json:"operator,omitempty"`
	Children []RuleTree `json:"children,omitempty"`

	Indicator  string         `json:"indicator,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Field      string         `json:"field,omitempty"`
	Comparator string         `json:"comparator,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	CompareTo  *IndicatorRef  `json:"compare_to,omitempty"`
}

func (r RuleTree) IsCombinator() bool {
	return r.Operator != ""
}

func (r RuleTree) IsCondition() bool {
	return r.Operator == "" && r.Indicator != ""
}

// Validate checks structural soundness: every node is exactly one of the
// two forms, indicators exist, comparators are known, and every condition
// has exactly one comparison target.
func (r RuleTree) Validate() error {
	if r.IsCombinator() {
		op := strings.ToLower(r.Operator)
		if op != OpAnd && op != OpOr {
			return fmt.Errorf("unknown operator: %s", r.Operator)
		}
		if r.Indicator != "" || r.Comparator != "" {
			return fmt.Errorf("combinator node cannot carry a condition")
		}
		if len(r.Children) == 0 {
			return fmt.Errorf("%s combinator has no children", op)
		}
		for i, child := range r.Children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
		return nil
	}
	if !r.IsCondition() {
		return fmt.Errorf("rule node is neither combinator nor condition")
	}
	if !indicator.Known(r.Indicator) {
		return fmt.Errorf("unknown indicator: %s", r.Indicator)
	}
	if !validComparators[strings.ToLower(r.Comparator)] {
		return fmt.Errorf("unknown comparator: %s", r.Comparator)
	}
	hasValue := r.Value != nil
	hasRef := r.CompareTo != nil
	if hasValue == hasRef {
		return fmt.Errorf("condition on %s needs exactly one of value or compare_to", r.Indicator)
	}
	if hasRef && !indicator.Known(r.CompareTo.Indicator) {
		return fmt.Errorf("unknown compare_to indicator: %s", r.CompareTo.Indicator)
	}
	return nil
}

// Refs collects every indicator reference in the tree, for cache building.
func (r RuleTree) Refs() []indicator.Ref {
	var out []indicator.Ref
	r.collectRefs(&out)
	return out
}

func (r RuleTree) collectRefs(out *[]indicator.Ref) {
	if r.IsCombinator() {
		for _, child := range r.Children {
			child.collectRefs(out)
		}
		return
	}
	if r.Indicator != "" {
		*out = append(*out, indicator.Ref{
			Name:   r.Indicator,
			Params: indicator.Params(r.Params),
			Field:  market.PriceField(r.Field),
		})
	}
	if r.CompareTo != nil {
		*out = append(*out, indicator.Ref{
			Name:   r.CompareTo.Indicator,
			Params: indicator.Params(r.CompareTo.Params),
			Field:  market.PriceField(r.CompareTo.Field),
		})
	}
}

// Strategy is a read-only input to the backtest engine.
type Strategy struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	EntryRules  RuleTree       `json:"entry_rules"`
	ExitRules   RuleTree       `json:"exit_rules"`
	IsActive    bool           `json:"is_active"`
	IsPublic    bool           `json:"is_public"`
	Owner       string         `json:"owner,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate checks both rule trees.
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if err := s.EntryRules.Validate(); err != nil {
		return fmt.Errorf("entry rules: %w", err)
	}
	if err := s.ExitRules.Validate(); err != nil {
		return fmt.Errorf("exit rules: %w", err)
	}
	return nil
}

// Refs returns the union of entry and exit indicator references.
func (s Strategy) Refs() []indicator.Ref {
	refs := s.EntryRules.Refs()
	return append(refs, s.ExitRules.Refs()...)
}
