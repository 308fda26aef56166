// Package errors defines the SOAR error taxonomy and sanitizes error text
// before it reaches alert producers or API clients.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrActionNotFound is a configuration error: a step names an action
	// that is not registered. The step fails immediately and is not retried.
	ErrActionNotFound = errors.New("action not found")

	// ErrStepTimeout is recorded when an action does not settle within the
	// step timeout.
	ErrStepTimeout = errors.New("step timed out")

	// ErrNoMatchingPlaybooks is reported when no playbook trigger matches an alert.
	ErrNoMatchingPlaybooks = errors.New("no matching playbooks")

	// ErrIncidentNotFound is returned by incident lookups.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidAlert wraps alert validation failures.
	ErrInvalidAlert = errors.New("invalid alert")

	// ErrInvalidDefinition wraps playbook, rule and action definition errors.
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrUnknownHandOff is returned when a hand-off name has no handler.
	ErrUnknownHandOff = errors.New("unknown hand-off")
)

// ActionNotFound returns ErrActionNotFound annotated with the action name.
func ActionNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrActionNotFound, name)
}

// InvalidDefinition returns ErrInvalidDefinition annotated with the offending
// definition kind and id.
func InvalidDefinition(kind, id string, err error) error {
	if id == "" {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, kind, err)
	}
	return fmt.Errorf("%w: %s %q: %v", ErrInvalidDefinition, kind, id, err)
}
