package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const playbookYAML = `
playbooks:
  - id: payout_hold
    name: Payout hold
    priority: 50
    trigger:
      source: payments
      severity: [high, critical]
    steps:
      - id: hold
        action: hold_payout
        timeout: 10s
      - id: notify
        action: notify_fraud_team
    escalation:
      conditions:
        - field: payout_held
          operator: "=="
          value: true
      actions: [escalate_to_analyst]
`

const ruleYAML = `
rules:
  - name: login_burst
    time_window: 5m
    action: create_correlated_incident
    severity: high
    conditions:
      - source: auth_monitor
        event_type: login_failed
        threshold: 10
`

const actionsYAML = `
actions:
  - name: hold_payout
    url: https://payments.internal/hold
  - name: notify_fraud_team
    url: https://notify.internal/fraud
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	pb := writeFile(t, dir, "playbooks.yaml", playbookYAML)
	rules := writeFile(t, dir, "rules.yaml", ruleYAML)
	acts := writeFile(t, dir, "actions.yaml", actionsYAML)
	partial := writeFile(t, dir, "partial.yaml", "actions:\n  - name: hold_payout\n    url: https://payments.internal/hold\n")
	broken := writeFile(t, dir, "broken.yaml", "playbooks:\n  - id: x\n    name: X\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"playbook ok", []string{pb}, 0, "1 valid, 0 invalid"},
		{"rule ok", []string{"-kind", "rule", rules}, 0, "(1 rule(s))"},
		{"rule as playbook", []string{rules}, 1, "FAIL"},
		{"action ok", []string{"-kind", "action", acts}, 0, "(2 action(s))"},
		{"missing steps", []string{broken}, 1, "FAIL"},
		{"no paths", nil, 1, "at least one path"},
		{"missing file", []string{filepath.Join(dir, "nope.yaml")}, 1, "Error:"},
		{"known actions", []string{"-actions", acts, pb}, 0, "(1 playbook(s))"},
		{"unknown action reference", []string{"-actions", partial, pb}, 1, "payout_hold/notify_fraud_team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := runValidateCmd(tt.args, &out)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d\n%s", code, tt.wantCode, out.String())
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, out.String())
			}
		})
	}
}

func TestValidateCmd_Verbose(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "playbooks.yaml", playbookYAML)
	writeFile(t, dir, "README.md", "not yaml")

	var out bytes.Buffer
	if code := runValidateCmd([]string{"-verbose", dir}, &out); code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out.String())
	}
	for _, want := range []string{"[payout_hold] Payout hold", "escalation: escalate_to_analyst", "1 files checked"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestListCmd(t *testing.T) {
	dir := t.TempDir()
	pb := writeFile(t, dir, "playbooks.yaml", playbookYAML)
	rules := writeFile(t, dir, "rules.yaml", ruleYAML)

	var out bytes.Buffer
	runListCmd([]string{pb}, &out)
	if !strings.Contains(out.String(), "payout_hold") || !strings.Contains(out.String(), "steps=2") {
		t.Errorf("playbook listing = %q", out.String())
	}

	out.Reset()
	runListCmd([]string{"-kind", "rule", rules}, &out)
	if !strings.Contains(out.String(), "login_burst") || !strings.Contains(out.String(), "create_correlated_incident") {
		t.Errorf("rule listing = %q", out.String())
	}
}

func TestCollectYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "x: 1")
	writeFile(t, dir, "b.YML", "x: 1")
	writeFile(t, dir, "c.json", "{}")
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "d.yml", "x: 1")

	files, err := collectYAMLFiles(dir)
	if err != nil {
		t.Fatalf("collectYAMLFiles: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("got %d files, want 3: %v", len(files), files)
	}
}
