package playbook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operator is a comparison operator usable in conditions.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// IsValid checks if the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OpGreater, OpLess, OpEqual, OpNotEqual, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Condition is a single comparison of a context field against a literal.
// It is used for step gating and escalation checks.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value" json:"value"`
}

// ParseCondition parses the shorthand form "field op value",
// e.g. "final_risk_score > 0.9". Quoted values are unquoted.
func ParseCondition(expr string) (Condition, error) {
	fields := strings.Fields(expr)
	if len(fields) < 3 {
		return Condition{}, fmt.Errorf("condition %q: expected \"field operator value\"", expr)
	}

	c := Condition{
		Field:    fields[0],
		Operator: Operator(fields[1]),
	}
	if !c.Operator.IsValid() {
		return Condition{}, fmt.Errorf("condition %q: unsupported operator %q", expr, fields[1])
	}

	raw := strings.Join(fields[2:], " ")
	if unq, err := strconv.Unquote(raw); err == nil {
		c.Value = unq
	} else {
		c.Value = raw
	}
	return c, nil
}

// UnmarshalYAML accepts either a mapping or the scalar shorthand.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseCondition(node.Value)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}

	type plain Condition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Condition(p)
	return nil
}

// Validate checks that the condition is well formed.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition field is required")
	}
	if !c.Operator.IsValid() {
		return fmt.Errorf("unsupported operator %q", c.Operator)
	}
	return nil
}

// String renders the condition in shorthand form.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// Evaluate compares the context value of Field against Value. When the literal
// is numeric the comparison is numeric; otherwise only == and != apply, on the
// raw values.
func (c Condition) Evaluate(ctx map[string]any) bool {
	actual, found := Lookup(ctx, c.Field)

	if want, ok := toFloat64(c.Value); ok {
		got, ok := toFloat64(actual)
		if !found || !ok {
			return c.Operator == OpNotEqual
		}
		switch c.Operator {
		case OpGreater:
			return got > want
		case OpLess:
			return got < want
		case OpGreaterEqual:
			return got >= want
		case OpLessEqual:
			return got <= want
		case OpEqual:
			return got == want
		case OpNotEqual:
			return got != want
		}
		return false
	}

	equal := found && fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", c.Value)
	switch c.Operator {
	case OpEqual:
		return equal
	case OpNotEqual:
		return !equal
	}
	return false
}

// EvaluateAll reports whether every condition holds. An empty list holds.
func EvaluateAll(conds []Condition, ctx map[string]any) bool {
	for _, c := range conds {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Lookup resolves a field from a context map. An exact key wins; otherwise a
// dotted path walks nested maps ("alert.severity").
func Lookup(ctx map[string]any, field string) (any, bool) {
	if v, ok := ctx[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var cur any = ctx
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
