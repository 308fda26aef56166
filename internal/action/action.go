// Package action holds the named, executable units that playbook steps
// invoke. The core never implements actions itself; they are registered by
// the embedding service or declared as webhook adapters.
package action

import (
	"context"
	"fmt"
	"sort"

	soarerr "boundary-soar/internal/errors"
)

// Inputs are the values resolved from the execution context for a step.
type Inputs map[string]any

// Outputs are merged back into the execution context after a step.
type Outputs map[string]any

// RunFunc executes an action. Implementations must honour ctx cancellation:
// the step timeout cancels ctx and any late result is discarded.
type RunFunc func(ctx context.Context, in Inputs) (Outputs, error)

// Action is a registered action implementation.
type Action struct {
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Run     RunFunc  `json:"-"`
}

// Registry maps action names to implementations. It is immutable after
// construction.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry from the given actions.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		if a.Name == "" {
			return nil, soarerr.InvalidDefinition("action", "", fmt.Errorf("name is required"))
		}
		if a.Run == nil {
			return nil, soarerr.InvalidDefinition("action", a.Name, fmt.Errorf("run function is required"))
		}
		if _, exists := r.actions[a.Name]; exists {
			return nil, soarerr.InvalidDefinition("action", a.Name, fmt.Errorf("duplicate name"))
		}
		r.actions[a.Name] = a
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for tests
// and static wiring.
func MustRegistry(actions ...Action) *Registry {
	r, err := NewRegistry(actions...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	if r == nil {
		return Action{}, false
	}
	a, ok := r.actions[name]
	return a, ok
}

// Lookup returns the action or an ErrActionNotFound error.
func (r *Registry) Lookup(name string) (Action, error) {
	a, ok := r.Get(name)
	if !ok {
		return Action{}, soarerr.ActionNotFound(name)
	}
	return a, nil
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.actions)
}

// Func wraps a plain function as an action.
func Func(name string, fn RunFunc) Action {
	return Action{Name: name, Run: fn}
}
