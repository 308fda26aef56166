// Package schema defines the alert format accepted by the SOAR engine.
// Alerts are produced by upstream detectors and are immutable once received.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists all valid severities from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

// Alert is an external signal describing a suspected security event.
type Alert struct {
	ID        string         `json:"id" validate:"required,max=256"`
	Type      string         `json:"type" validate:"required,max=128"`
	Source    string         `json:"source" validate:"required,max=128"`
	Severity  Severity       `json:"severity" validate:"required,oneof=low medium high critical"`
	Patterns  []string       `json:"patterns,omitempty" validate:"max=64,dive,max=128"`
	UserID    string         `json:"user_id,omitempty" validate:"max=256"`
	SessionID string         `json:"session_id,omitempty" validate:"max=256"`
	IPAddress string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Fields    map[string]any `json:"-"`
}

// knownAlertKeys are the JSON keys bound to struct fields.
var knownAlertKeys = map[string]bool{
	"id": true, "type": true, "source": true, "severity": true, "patterns": true,
	"user_id": true, "session_id": true, "ip_address": true, "timestamp": true,
}

// UnmarshalJSON decodes an alert, keeping unknown keys in Fields.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownAlertKeys[k] {
			continue
		}
		if p.Fields == nil {
			p.Fields = make(map[string]any)
		}
		p.Fields[k] = v
	}

	*a = Alert(p)
	return nil
}

// MarshalJSON encodes the alert with Fields flattened into the top level.
func (a Alert) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+9)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["id"] = a.ID
	out["type"] = a.Type
	out["source"] = a.Source
	out["severity"] = a.Severity
	if len(a.Patterns) > 0 {
		out["patterns"] = a.Patterns
	}
	if a.UserID != "" {
		out["user_id"] = a.UserID
	}
	if a.SessionID != "" {
		out["session_id"] = a.SessionID
	}
	if a.IPAddress != "" {
		out["ip_address"] = a.IPAddress
	}
	if !a.Timestamp.IsZero() {
		out["timestamp"] = a.Timestamp
	}
	return json.Marshal(out)
}

// HasPattern reports whether the alert carries the given pattern tag.
func (a *Alert) HasPattern(p string) bool {
	for _, own := range a.Patterns {
		if own == p {
			return true
		}
	}
	return false
}

// Context returns the initial incident context for the alert: its contextual
// fields plus the alert under the "alert" key. The alert is stored in its
// decoded JSON form so dotted paths such as "alert.severity" resolve the same
// before and after the context is persisted.
func (a *Alert) Context() map[string]any {
	ctx := make(map[string]any, len(a.Fields)+4)
	for k, v := range a.Fields {
		ctx[k] = v
	}
	ctx["user_id"] = a.UserID
	ctx["session_id"] = a.SessionID
	ctx["ip_address"] = a.IPAddress
	ctx["alert"] = a.asMap()
	return ctx
}

func (a *Alert) asMap() map[string]any {
	out := make(map[string]any)
	data, err := json.Marshal(a)
	if err == nil {
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		out = map[string]any{
			"id":       a.ID,
			"type":     a.Type,
			"source":   a.Source,
			"severity": string(a.Severity),
		}
	}
	return out
}
