package playbook

import (
	"time"

	"boundary-soar/internal/schema"
)

// Builtin returns the default response playbooks.
func Builtin() []*Playbook {
	return []*Playbook{
		FraudResponse(),
		AccountTakeoverResponse(),
		MalwareContainment(),
	}
}

// FraudResponse scores the alert, suspends risky sessions and escalates
// when the final risk score is very high.
func FraudResponse() *Playbook {
	return &Playbook{
		ID:          "fraud_response",
		Name:        "Fraud Response",
		Version:     "1.0",
		Description: "Score suspected fraud and contain the affected session",
		Priority:    100,
		Trigger: Trigger{
			Source:   "fraud_detection",
			Severity: []schema.Severity{schema.SeverityHigh, schema.SeverityCritical},
		},
		Steps: []Step{
			{
				ID:      "calculate_risk",
				Name:    "Calculate risk score",
				Type:    "analysis",
				Action:  "calculate_risk_score",
				Inputs:  []string{"user_id", "ip_address", "alert"},
				Outputs: []string{"final_risk_score"},
				Timeout: 30 * time.Second,
			},
			{
				ID:        "suspend_session",
				Name:      "Suspend session",
				Type:      "containment",
				Action:    "suspend_session",
				Inputs:    []string{"session_id", "user_id"},
				Outputs:   []string{"session_suspended"},
				Timeout:   10 * time.Second,
				Condition: &Condition{Field: "final_risk_score", Operator: OpGreater, Value: 0.7},
			},
			{
				ID:      "notify_fraud_team",
				Name:    "Notify fraud team",
				Type:    "notification",
				Action:  "notify_fraud_team",
				Inputs:  []string{"user_id", "final_risk_score", "alert"},
				Outputs: []string{"notification_sent"},
				Timeout: 10 * time.Second,
				RetryPolicy: &RetryPolicy{
					MaxAttempts: 3,
					Backoff:     time.Second,
					MaxBackoff:  5 * time.Second,
				},
			},
		},
		Escalation: &Escalation{
			Conditions: []Condition{{Field: "final_risk_score", Operator: OpGreater, Value: 0.9}},
			Actions:    []string{"escalate_to_analyst", "create_high_priority_ticket"},
		},
	}
}

// AccountTakeoverResponse verifies identity and resets credentials on
// takeover patterns reported by the auth monitor.
func AccountTakeoverResponse() *Playbook {
	return &Playbook{
		ID:          "account_takeover_response",
		Name:        "Account Takeover Response",
		Version:     "1.0",
		Description: "Verify identity and reset credentials after takeover indicators",
		Priority:    90,
		Trigger: Trigger{
			Source:   "auth_monitor",
			Patterns: []string{"impossible_travel", "credential_stuffing", "new_device_login"},
		},
		Steps: []Step{
			{
				ID:      "verify_identity",
				Name:    "Verify user identity",
				Type:    "verification",
				Action:  "verify_user_identity",
				Inputs:  []string{"user_id", "session_id"},
				Outputs: []string{"identity_verified"},
				Timeout: 2 * time.Minute,
			},
			{
				ID:        "force_password_reset",
				Name:      "Force password reset",
				Type:      "containment",
				Action:    "force_password_reset",
				Inputs:    []string{"user_id"},
				Outputs:   []string{"password_reset"},
				Timeout:   15 * time.Second,
				Condition: &Condition{Field: "identity_verified", Operator: OpEqual, Value: false},
			},
			{
				ID:      "revoke_sessions",
				Name:    "Revoke active sessions",
				Type:    "containment",
				Action:  "revoke_sessions",
				Inputs:  []string{"user_id"},
				Outputs: []string{"sessions_revoked"},
				Timeout: 15 * time.Second,
			},
		},
		Escalation: &Escalation{
			Conditions: []Condition{{Field: "identity_verified", Operator: OpEqual, Value: false}},
			Actions:    []string{"escalate_to_analyst", "trigger_account_protection"},
		},
	}
}

// MalwareContainment quarantines the artifact and isolates the host.
func MalwareContainment() *Playbook {
	return &Playbook{
		ID:          "malware_containment",
		Name:        "Malware Containment",
		Version:     "1.0",
		Description: "Quarantine malicious files and isolate infected hosts",
		Priority:    80,
		Trigger: Trigger{
			Type:     "malware",
			Severity: []schema.Severity{schema.SeverityMedium, schema.SeverityHigh, schema.SeverityCritical},
		},
		Steps: []Step{
			{
				ID:      "threat_intel",
				Name:    "Threat intel lookup",
				Type:    "enrichment",
				Action:  "threat_intel_lookup",
				Inputs:  []string{"file_hash", "ip_address"},
				Outputs: []string{"threat_level"},
				Timeout: 20 * time.Second,
			},
			{
				ID:      "quarantine_file",
				Name:    "Quarantine file",
				Type:    "containment",
				Action:  "quarantine_file",
				Inputs:  []string{"file_hash", "host_id"},
				Outputs: []string{"quarantined"},
				Timeout: 30 * time.Second,
			},
			{
				ID:        "isolate_host",
				Name:      "Isolate host",
				Type:      "containment",
				Action:    "isolate_host",
				Inputs:    []string{"host_id"},
				Outputs:   []string{"host_isolated"},
				Timeout:   30 * time.Second,
				Condition: &Condition{Field: "threat_level", Operator: OpEqual, Value: "critical"},
			},
		},
		Escalation: &Escalation{
			Conditions: []Condition{{Field: "threat_level", Operator: OpEqual, Value: "critical"}},
			Actions:    []string{"escalate_to_soc", "notify_security_team"},
		},
	}
}
