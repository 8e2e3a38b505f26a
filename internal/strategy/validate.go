package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ruleTreeSchema guards rule-tree JSON at the API edge before it is decoded
// into RuleTree. Structural checks only; indicator/comparator names are
// verified by RuleTree.Validate against the registry.
const ruleTreeSchema = `{
  "$id": "backlab://schemas/rule-tree",
  "oneOf": [
    {
      "type": "object",
      "required": ["operator", "children"],
      "properties": {
        "operator": {"enum": ["and", "or"]},
        "children": {
          "type": "array",
          "minItems": 1,
          "items": {"$ref": "#"}
        }
      },
      "additionalProperties": false
    },
    {
      "type": "object",
      "required": ["indicator", "comparator"],
      "properties": {
        "indicator": {"type": "string", "minLength": 1},
        "params": {"type": "object"},
        "field": {"enum": ["open", "high", "low", "close", "volume"]},
        "comparator": {"enum": ["above", "below", "equals", "crosses_above", "crosses_below"]},
        "value": {"type": "number"},
        "compare_to": {
          "type": "object",
          "required": ["indicator"],
          "properties": {
            "indicator": {"type": "string", "minLength": 1},
            "params": {"type": "object"},
            "field": {"enum": ["open", "high", "low", "close", "volume"]}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  ]
}`

var compiledRuleSchema = mustCompileRuleSchema()

func mustCompileRuleSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rule-tree.json", bytes.NewReader([]byte(ruleTreeSchema))); err != nil {
		panic(fmt.Sprintf("rule tree schema resource: %v", err))
	}
	schema, err := compiler.Compile("rule-tree.json")
	if err != nil {
		panic(fmt.Sprintf("rule tree schema compile: %v", err))
	}
	return schema
}

// ValidateRuleJSON checks raw rule-tree JSON against the schema.
func ValidateRuleJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("rule tree cannot be empty")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("rule tree is not valid JSON: %w", err)
	}
	if err := compiledRuleSchema.Validate(doc); err != nil {
		return fmt.Errorf("rule tree schema violation: %w", err)
	}
	return nil
}

// ParseRuleTree validates and decodes raw rule-tree JSON.
func ParseRuleTree(raw json.RawMessage) (RuleTree, error) {
	if err := ValidateRuleJSON(raw); err != nil {
		return RuleTree{}, err
	}
	var tree RuleTree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return RuleTree{}, err
	}
	if err := tree.Validate(); err != nil {
		return RuleTree{}, err
	}
	return tree, nil
}
