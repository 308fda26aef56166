package playbook

import (
	"strings"
	"testing"
	"time"

	"boundary-soar/internal/schema"
)

func TestTriggerMatches(t *testing.T) {
	alert := &schema.Alert{
		ID:       "a1",
		Type:     "alert",
		Source:   "fraud_detection",
		Severity: schema.SeverityHigh,
		Patterns: []string{"velocity", "new_device"},
	}

	tests := []struct {
		name    string
		trigger Trigger
		want    bool
	}{
		{"empty trigger", Trigger{}, true},
		{"source match", Trigger{Source: "fraud_detection"}, true},
		{"source mismatch", Trigger{Source: "auth_monitor"}, false},
		{"type mismatch", Trigger{Type: "malware"}, false},
		{"severity member", Trigger{Severity: []schema.Severity{schema.SeverityHigh, schema.SeverityCritical}}, true},
		{"severity not member", Trigger{Severity: []schema.Severity{schema.SeverityCritical}}, false},
		{"pattern overlap", Trigger{Patterns: []string{"impossible_travel", "velocity"}}, true},
		{"no pattern overlap", Trigger{Patterns: []string{"impossible_travel"}}, false},
		{"all fields", Trigger{Type: "alert", Source: "fraud_detection", Severity: []schema.Severity{schema.SeverityHigh}, Patterns: []string{"new_device"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trigger.Matches(alert); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	if (Trigger{}).Matches(nil) {
		t.Error("nil alert should not match")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 300 * time.Millisecond},
		{5, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestStepEffectiveTimeout(t *testing.T) {
	if got := (Step{}).EffectiveTimeout(); got != DefaultStepTimeout {
		t.Errorf("expected default timeout, got %v", got)
	}
	if got := (Step{Timeout: time.Second}).EffectiveTimeout(); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}

func TestPlaybookValidate(t *testing.T) {
	valid := func() *Playbook {
		return &Playbook{
			ID:    "pb",
			Name:  "Playbook",
			Steps: []Step{{ID: "s1", Action: "a"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Playbook)
		wantErr string
	}{
		{"valid", func(*Playbook) {}, ""},
		{"missing id", func(p *Playbook) { p.ID = "" }, "ID"},
		{"no steps", func(p *Playbook) { p.Steps = nil }, "Steps"},
		{"step without action", func(p *Playbook) { p.Steps[0].Action = "" }, "Action"},
		{"duplicate step", func(p *Playbook) { p.Steps = append(p.Steps, Step{ID: "s1", Action: "b"}) }, "duplicate step"},
		{"bad severity", func(p *Playbook) { p.Trigger.Severity = []schema.Severity{"urgent"} }, "Severity"},
		{"bad step condition", func(p *Playbook) { p.Steps[0].Condition = &Condition{Field: "x", Operator: "=~"} }, "unsupported operator"},
		{"empty escalation", func(p *Playbook) { p.Escalation = &Escalation{Actions: []string{"x"}} }, "at least one condition"},
		{"bad retry", func(p *Playbook) { p.Steps[0].RetryPolicy = &RetryPolicy{MaxAttempts: 0} }, "MaxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEscalationShouldEscalate(t *testing.T) {
	var nilEsc *Escalation
	if nilEsc.ShouldEscalate(map[string]any{}) {
		t.Error("nil escalation should not fire")
	}
	if (&Escalation{}).ShouldEscalate(map[string]any{}) {
		t.Error("escalation without conditions should not fire")
	}

	esc := &Escalation{Conditions: []Condition{
		{Field: "final_risk_score", Operator: OpGreater, Value: 0.9},
		{Field: "confirmed", Operator: OpEqual, Value: true},
	}}
	if esc.ShouldEscalate(map[string]any{"final_risk_score": 0.95}) {
		t.Error("escalation requires all conditions")
	}
	if !esc.ShouldEscalate(map[string]any{"final_risk_score": 0.95, "confirmed": true}) {
		t.Error("expected escalation when all conditions hold")
	}
}

func TestBuiltinPlaybooksValid(t *testing.T) {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("builtin playbooks invalid: %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("expected 3 builtin playbooks, got %d", r.Len())
	}
}
