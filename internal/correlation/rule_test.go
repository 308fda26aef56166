package correlation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	soarerr "boundary-soar/internal/errors"
)

func TestRuleCondition_Passes(t *testing.T) {
	c := RuleCondition{Source: "auth_monitor", EventType: "login_failure", Threshold: 3}
	tests := []struct {
		count int
		want  bool
	}{
		{0, false},
		{2, false},
		{3, true},
		{10, true},
	}
	for _, tt := range tests {
		if got := c.Passes(tt.count); got != tt.want {
			t.Errorf("Passes(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestRule_Validate(t *testing.T) {
	valid := func() *Rule {
		r := CoordinatedFraudRule()
		return r
	}

	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr bool
	}{
		{"valid", func(*Rule) {}, false},
		{"missing name", func(r *Rule) { r.Name = "" }, true},
		{"zero window", func(r *Rule) { r.TimeWindow = 0 }, true},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, true},
		{"zero threshold", func(r *Rule) { r.Conditions[0].Threshold = 0 }, true},
		{"missing event type", func(r *Rule) { r.Conditions[1].EventType = "" }, true},
		{"missing action", func(r *Rule) { r.Action = "" }, true},
		{"bad severity", func(r *Rule) { r.Severity = "severe" }, true},
		{"negative suppression", func(r *Rule) { r.SuppressFor = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, soarerr.ErrInvalidDefinition) {
				t.Errorf("error %v does not wrap ErrInvalidDefinition", err)
			}
		})
	}
}

func TestBuiltinRules(t *testing.T) {
	reg, err := NewRegistry(BuiltinRules()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != 3 {
		t.Errorf("Len = %d", reg.Len())
	}
	names := []string{}
	for _, r := range reg.All() {
		names = append(names, r.Name)
	}
	want := []string{"coordinated_fraud", "credential_stuffing", "lateral_movement"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("rules = %v, want %v", names, want)
		}
	}

	if _, err := NewRegistry(CoordinatedFraudRule(), CoordinatedFraudRule()); err == nil {
		t.Error("expected duplicate rule error")
	}
}

const rulesYAML = `
rules:
  - name: payout_burst
    time_window: 10m
    action: create_correlated_incident
    severity: high
    suppress_for: 30m
    conditions:
      - source: payments
        event_type: payout_requested
        threshold: 20
      - source: auth_monitor
        event_type: password_changed
        threshold: 1
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d", len(rules))
	}
	r := rules[0]
	if r.TimeWindow != 10*time.Minute || r.SuppressFor != 30*time.Minute {
		t.Errorf("durations = %s / %s", r.TimeWindow, r.SuppressFor)
	}
	if len(r.Conditions) != 2 || r.Conditions[0].Threshold != 20 || r.Conditions[1].EventType != "password_changed" {
		t.Errorf("conditions = %+v", r.Conditions)
	}

	single := `
name: single
time_window: 1m
action: escalate_to_soc
severity: critical
conditions:
  - {source: edr, event_type: ransomware_note, threshold: 1}
`
	rules, err = ParseRules([]byte(single))
	if err != nil || len(rules) != 1 || rules[0].Name != "single" {
		t.Fatalf("single rule: %v %v", rules, err)
	}

	list := `
- name: a
  time_window: 1m
  action: escalate_to_soc
  severity: low
  conditions: [{source: s, event_type: e, threshold: 2}]
`
	rules, err = ParseRules([]byte(list))
	if err != nil || len(rules) != 1 {
		t.Fatalf("list: %v %v", rules, err)
	}

	if _, err := ParseRules([]byte("name: broken\ntime_window: 1m\n")); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(rulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "payout_burst" {
		t.Errorf("rules = %v", rules)
	}

	if _, err := LoadPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing path")
	}
}
