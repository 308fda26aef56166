package playbook

import (
	"fmt"
	"sort"

	"boundary-soar/internal/schema"
)

// Registry holds the playbooks known to the engine. It is built once and
// never mutated, so it is safe for concurrent reads.
type Registry struct {
	playbooks []*Playbook
	byID      map[string]*Playbook
}

// NewRegistry validates and indexes the given playbooks.
func NewRegistry(playbooks ...*Playbook) (*Registry, error) {
	r := &Registry{
		playbooks: make([]*Playbook, 0, len(playbooks)),
		byID:      make(map[string]*Playbook, len(playbooks)),
	}
	for _, p := range playbooks {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate playbook id %q", p.ID)
		}
		r.byID[p.ID] = p
		r.playbooks = append(r.playbooks, p)
	}
	return r, nil
}

// Get returns a playbook by ID.
func (r *Registry) Get(id string) (*Playbook, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns the playbooks in registration order.
func (r *Registry) All() []*Playbook {
	out := make([]*Playbook, len(r.playbooks))
	copy(out, r.playbooks)
	return out
}

// Len returns the number of registered playbooks.
func (r *Registry) Len() int {
	return len(r.playbooks)
}

// Match returns the playbooks whose trigger matches the alert, highest
// priority first. Ties are ordered by ID.
func (r *Registry) Match(alert *schema.Alert) []*Playbook {
	var matched []*Playbook
	for _, p := range r.playbooks {
		if p.Trigger.Matches(alert) {
			matched = append(matched, p)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}
