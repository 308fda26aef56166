// Package incident defines incidents, playbook executions and the store that
// persists them.
package incident

import (
	"maps"
	"time"

	"boundary-soar/internal/schema"
)

// Status is the incident lifecycle state. The engine only moves incidents
// from investigating to escalated; resolved and closed are set externally.
type Status string

const (
	StatusInvestigating Status = "investigating"
	StatusEscalated     Status = "escalated"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// IsActive reports whether the incident still needs attention.
func (s Status) IsActive() bool {
	return s == StatusInvestigating || s == StatusEscalated
}

// Source records what opened the incident.
type Source string

const (
	SourceAlert       Source = "alert"
	SourceCorrelation Source = "correlation"
)

// Incident tracks the response to one alert.
type Incident struct {
	ID              string          `json:"id"`
	AlertID         string          `json:"alert_id"`
	Severity        schema.Severity `json:"severity"`
	Status          Status          `json:"status"`
	Source          Source          `json:"source"`
	Context         map[string]any  `json:"context"`
	Playbooks       []string        `json:"playbooks"`
	EscalationLevel int             `json:"escalation_level"`
	CreatedAt       time.Time       `json:"created_at"`
	EscalatedAt     *time.Time      `json:"escalated_at,omitempty"`
}

// Clone returns a copy whose maps and slices are not shared.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	c.Context = maps.Clone(i.Context)
	c.Playbooks = append([]string(nil), i.Playbooks...)
	if i.EscalatedAt != nil {
		t := *i.EscalatedAt
		c.EscalatedAt = &t
	}
	return &c
}

// ExecutionStatus is the state of a playbook run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepStatus is the state of a single step run.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step has settled.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Execution is the record of one playbook run against an incident.
type Execution struct {
	ID          string          `json:"id"`
	PlaybookID  string          `json:"playbook_id"`
	IncidentID  string          `json:"incident_id"`
	Status      ExecutionStatus `json:"status"`
	Steps       []StepExecution `json:"steps"`
	Context     map[string]any  `json:"context"`
	Error       string          `json:"error,omitempty"`
	Escalated   bool            `json:"escalated"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Duration returns how long the execution ran.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// StepExecution is the record of one step run.
type StepExecution struct {
	StepID    string         `json:"step_id"`
	Action    string         `json:"action"`
	Status    StepStatus     `json:"status"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Attempts  int            `json:"attempts"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Error     string         `json:"error,omitempty"`
}

// Stats summarizes the incidents held by a store. EscalatedLast24h counts
// incidents whose latest escalation falls in the last 24 hours, not
// escalation levels.
type Stats struct {
	TotalIncidents   int                     `json:"total_incidents"`
	ActiveIncidents  int                     `json:"active_incidents"`
	BySeverity       map[schema.Severity]int `json:"by_severity"`
	ByStatus         map[Status]int          `json:"by_status"`
	EscalatedLast24h int                     `json:"escalated_last_24h"`
	TotalExecutions  int                     `json:"total_executions"`
}

// ComputeStats aggregates incident counters relative to now.
func ComputeStats(incidents []*Incident, executions int, now time.Time) Stats {
	s := Stats{
		BySeverity:      make(map[schema.Severity]int),
		ByStatus:        make(map[Status]int),
		TotalExecutions: executions,
	}
	cutoff := now.Add(-24 * time.Hour)
	for _, inc := range incidents {
		s.TotalIncidents++
		if inc.Status.IsActive() {
			s.ActiveIncidents++
		}
		s.BySeverity[inc.Severity]++
		s.ByStatus[inc.Status]++
		if inc.EscalatedAt != nil && inc.EscalatedAt.After(cutoff) {
			s.EscalatedLast24h++
		}
	}
	return s
}
