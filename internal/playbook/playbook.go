// Package playbook defines response playbooks and the registry that selects
// them for incoming alerts. Playbooks are read-only once registered.
package playbook

import (
	"fmt"
	"slices"
	"time"

	"boundary-soar/internal/schema"

	"github.com/go-playground/validator/v10"
)

// DefaultStepTimeout applies to steps that declare no timeout.
const DefaultStepTimeout = 60 * time.Second

// Playbook is an ordered set of response steps selected by a trigger.
type Playbook struct {
	ID          string      `yaml:"id" json:"id" validate:"required,max=128"`
	Name        string      `yaml:"name" json:"name" validate:"required"`
	Version     string      `yaml:"version" json:"version"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Trigger     Trigger     `yaml:"trigger" json:"trigger"`
	Steps       []Step      `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Escalation  *Escalation `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// Trigger describes which alerts select a playbook. Empty fields are
// unconstrained.
type Trigger struct {
	Type     string            `yaml:"type,omitempty" json:"type,omitempty"`
	Source   string            `yaml:"source,omitempty" json:"source,omitempty"`
	Severity []schema.Severity `yaml:"severity,omitempty" json:"severity,omitempty" validate:"dive,oneof=low medium high critical"`
	Patterns []string          `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// Step is a single unit of work bound to a named action.
type Step struct {
	ID          string        `yaml:"id" json:"id" validate:"required"`
	Name        string        `yaml:"name" json:"name"`
	Type        string        `yaml:"type,omitempty" json:"type,omitempty"`
	Action      string        `yaml:"action" json:"action" validate:"required"`
	Inputs      []string      `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs     []string      `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	Condition   *Condition    `yaml:"condition,omitempty" json:"condition,omitempty"`
	RetryPolicy *RetryPolicy  `yaml:"retry_policy,omitempty" json:"retry_policy,omitempty"`
}

// EffectiveTimeout returns the step timeout, falling back to DefaultStepTimeout.
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultStepTimeout
	}
	return s.Timeout
}

// RetryPolicy bounds how often a failed step is re-attempted.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1,max=10"`
	Backoff     time.Duration `yaml:"backoff,omitempty" json:"backoff,omitempty" validate:"gte=0"`
	MaxBackoff  time.Duration `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty" validate:"gte=0"`
}

// Delay returns the wait before the given attempt (2 = first retry).
// Backoff doubles per retry and is capped at MaxBackoff when set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Escalation raises an incident when all conditions hold after a run.
type Escalation struct {
	Conditions []Condition `yaml:"conditions" json:"conditions"`
	Actions    []string    `yaml:"actions" json:"actions"`
}

// ShouldEscalate reports whether the escalation fires for the given context.
// An escalation with no conditions never fires.
func (e *Escalation) ShouldEscalate(ctx map[string]any) bool {
	if e == nil || len(e.Conditions) == 0 {
		return false
	}
	return EvaluateAll(e.Conditions, ctx)
}

// Matches reports whether every declared trigger field matches the alert.
func (t Trigger) Matches(alert *schema.Alert) bool {
	if alert == nil {
		return false
	}
	if t.Type != "" && t.Type != alert.Type {
		return false
	}
	if t.Source != "" && t.Source != alert.Source {
		return false
	}
	if len(t.Severity) > 0 && !slices.Contains(t.Severity, alert.Severity) {
		return false
	}
	if len(t.Patterns) > 0 {
		for _, p := range t.Patterns {
			if alert.HasPattern(p) {
				return true
			}
		}
		return false
	}
	return true
}

var definitionValidator = validator.New()

// Validate checks the playbook definition for structural errors.
func (p *Playbook) Validate() error {
	if err := definitionValidator.Struct(p); err != nil {
		return fmt.Errorf("playbook %q: %w", p.ID, err)
	}

	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.ID] {
			return fmt.Errorf("playbook %q: duplicate step id %q", p.ID, s.ID)
		}
		seen[s.ID] = true

		if s.Condition != nil {
			if err := s.Condition.Validate(); err != nil {
				return fmt.Errorf("playbook %q step %q: %w", p.ID, s.ID, err)
			}
		}
	}

	if p.Escalation != nil {
		if len(p.Escalation.Conditions) == 0 {
			return fmt.Errorf("playbook %q: escalation requires at least one condition", p.ID)
		}
		for _, c := range p.Escalation.Conditions {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("playbook %q escalation: %w", p.ID, err)
			}
		}
	}
	return nil
}

// ActionNames returns the distinct action names referenced by the steps.
func (p *Playbook) ActionNames() []string {
	var names []string
	for _, s := range p.Steps {
		if !slices.Contains(names, s.Action) {
			names = append(names, s.Action)
		}
	}
	return names
}
