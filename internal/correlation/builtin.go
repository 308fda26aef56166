package correlation

import (
	"time"

	"boundary-soar/internal/schema"
)

// BuiltinRules returns the built-in correlation rules.
func BuiltinRules() []*Rule {
	return []*Rule{
		CredentialStuffingRule(),
		CoordinatedFraudRule(),
		LateralMovementRule(),
	}
}

// CredentialStuffingRule detects a burst of failed logins followed by
// successful ones.
func CredentialStuffingRule() *Rule {
	return &Rule{
		Name:        "credential_stuffing",
		Description: "Many failed logins together with successful logins in a short window",
		TimeWindow:  5 * time.Minute,
		Conditions: []RuleCondition{
			{Source: "auth_monitor", EventType: "login_failure", Threshold: 50},
			{Source: "auth_monitor", EventType: "login_success", Threshold: 5},
		},
		Action:      ActionTriggerAccountProtection,
		Severity:    schema.SeverityHigh,
		SuppressFor: 15 * time.Minute,
		Tags:        []string{"authentication", "credential-stuffing"},
		MITRE: &MITREMapping{
			TacticID:    "TA0006",
			TacticName:  "Credential Access",
			TechniqueID: "T1110.004",
		},
	}
}

// CoordinatedFraudRule detects flagged transactions arriving alongside new
// device logins.
func CoordinatedFraudRule() *Rule {
	return &Rule{
		Name:        "coordinated_fraud",
		Description: "Flagged transactions coinciding with a wave of new device logins",
		TimeWindow:  15 * time.Minute,
		Conditions: []RuleCondition{
			{Source: "fraud_detection", EventType: "transaction_flagged", Threshold: 10},
			{Source: "auth_monitor", EventType: "new_device_login", Threshold: 5},
		},
		Action:   ActionCreateIncident,
		Severity: schema.SeverityCritical,
		Tags:     []string{"fraud"},
	}
}

// LateralMovementRule detects remote logins spreading across hosts.
func LateralMovementRule() *Rule {
	return &Rule{
		Name:        "lateral_movement",
		Description: "Remote logins and SMB sessions fanning out from compromised hosts",
		TimeWindow:  10 * time.Minute,
		Conditions: []RuleCondition{
			{Source: "edr", EventType: "remote_login", Threshold: 5},
			{Source: "network_monitor", EventType: "smb_session", Threshold: 10},
		},
		Action:      ActionEscalateToSOC,
		Severity:    schema.SeverityCritical,
		SuppressFor: 30 * time.Minute,
		Tags:        []string{"lateral-movement"},
		MITRE: &MITREMapping{
			TacticID:    "TA0008",
			TacticName:  "Lateral Movement",
			TechniqueID: "T1021",
		},
	}
}
