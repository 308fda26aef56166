// Package correlation aggregates low-level events over sliding time windows
// and synthesizes higher-confidence incidents when every condition of a rule
// reaches its threshold.
package correlation

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/playbook"
	"boundary-soar/internal/schema"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Built-in correlation actions.
const (
	ActionCreateIncident           = "create_correlated_incident"
	ActionTriggerAccountProtection = "trigger_account_protection"
	ActionEscalateToSOC            = "escalate_to_soc"
)

// Rule is a time-windowed aggregation over events.
type Rule struct {
	Name        string          `yaml:"name" json:"name" validate:"required,max=128"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	TimeWindow  time.Duration   `yaml:"time_window" json:"time_window" validate:"gt=0"`
	Conditions  []RuleCondition `yaml:"conditions" json:"conditions" validate:"required,min=1,dive"`
	Action      string          `yaml:"action" json:"action" validate:"required"`
	Severity    schema.Severity `yaml:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	// SuppressFor is the quiet period after a fire. Zero fires on every
	// passing tick.
	SuppressFor time.Duration `yaml:"suppress_for,omitempty" json:"suppress_for,omitempty" validate:"gte=0"`
	Tags        []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	MITRE       *MITREMapping `yaml:"mitre,omitempty" json:"mitre,omitempty"`
}

// RuleCondition counts events of one source and event type.
type RuleCondition struct {
	Source    string `yaml:"source" json:"source" validate:"required"`
	EventType string `yaml:"event_type" json:"event_type" validate:"required"`
	Threshold int    `yaml:"threshold" json:"threshold" validate:"min=1"`
}

// MITREMapping maps the rule to MITRE ATT&CK.
type MITREMapping struct {
	TacticID    string `yaml:"tactic_id" json:"tactic_id"`
	TacticName  string `yaml:"tactic_name" json:"tactic_name"`
	TechniqueID string `yaml:"technique_id" json:"technique_id"`
}

// Passes reports whether count reaches the threshold.
func (c RuleCondition) Passes(count int) bool {
	threshold := playbook.Condition{Field: "count", Operator: playbook.OpGreaterEqual, Value: c.Threshold}
	return threshold.Evaluate(map[string]any{"count": count})
}

func (c RuleCondition) String() string {
	return fmt.Sprintf("%s/%s >= %d", c.Source, c.EventType, c.Threshold)
}

var ruleValidator = validator.New()

// Validate checks the rule definition.
func (r *Rule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		return soarerr.InvalidDefinition("correlation rule", r.Name, err)
	}
	return nil
}

// Registry holds the correlation rules. It is read-only after construction.
type Registry struct {
	rules map[string]*Rule
	order []*Rule
}

// NewRegistry validates the rules and rejects duplicate names.
func NewRegistry(rules ...*Rule) (*Registry, error) {
	r := &Registry{rules: make(map[string]*Rule, len(rules))}
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.rules[rule.Name]; dup {
			return nil, soarerr.InvalidDefinition("correlation rule", rule.Name, fmt.Errorf("duplicate rule name"))
		}
		r.rules[rule.Name] = rule
		r.order = append(r.order, rule)
	}
	sort.SliceStable(r.order, func(i, j int) bool { return r.order[i].Name < r.order[j].Name })
	return r, nil
}

// Get returns a rule by name.
func (r *Registry) Get(name string) (*Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// All returns the rules ordered by name.
func (r *Registry) All() []*Rule {
	return slices.Clone(r.order)
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	return len(r.order)
}

// ParseRules parses rules from YAML. The document may be a list of rules, a
// mapping with a "rules" key or a single rule.
func ParseRules(data []byte) ([]*Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	var rules []*Rule
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
	case yaml.MappingNode:
		var doc struct {
			Rules []*Rule `yaml:"rules"`
		}
		if err := root.Decode(&doc); err == nil && doc.Rules != nil {
			rules = doc.Rules
			break
		}
		var rule Rule
		if err := root.Decode(&rule); err != nil {
			return nil, fmt.Errorf("failed to parse rule: %w", err)
		}
		rules = []*Rule{&rule}
	default:
		return nil, fmt.Errorf("failed to parse rules: unexpected YAML node")
	}

	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}

// LoadPath loads rules from a YAML file or from every .yaml/.yml file in a
// directory.
func LoadPath(path string) ([]*Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rules path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules directory: %w", err)
		}
		files = files[:0]
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	var all []*Rule
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file %s: %w", file, err)
		}
		rules, err := ParseRules(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		all = append(all, rules...)
	}
	return all, nil
}
