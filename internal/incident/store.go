package incident

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	soarerr "boundary-soar/internal/errors"
)

// Store persists incidents and executions. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create stores a new incident.
	Create(ctx context.Context, inc *Incident) error
	// Get returns a copy of the incident or ErrIncidentNotFound.
	Get(ctx context.Context, id string) (*Incident, error)
	// Update applies fn to the stored incident atomically and returns the
	// updated copy. If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*Incident) error) (*Incident, error)
	// List returns all incidents ordered by creation time.
	List(ctx context.Context) ([]*Incident, error)
	// SaveExecution stores or replaces an execution record.
	SaveExecution(ctx context.Context, exec *Execution) error
	// Executions returns the executions recorded for an incident.
	Executions(ctx context.Context, incidentID string) ([]*Execution, error)
	// ExecutionCount returns the number of stored executions.
	ExecutionCount(ctx context.Context) (int, error)
}

// StoreError wraps store failures with the operation and key involved.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("incident.%s(%s): %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("incident.%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the incident does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, soarerr.ErrIncidentNotFound)
}

// MemoryStore keeps incidents in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	incidents  map[string]*Incident
	executions map[string][]*Execution
	execCount  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents:  make(map[string]*Incident),
		executions: make(map[string][]*Execution),
	}
}

func (s *MemoryStore) Create(ctx context.Context, inc *Incident) error {
	if inc == nil || inc.ID == "" {
		return &StoreError{Op: "Create", Err: errors.New("incident id is required")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.incidents[inc.ID]; exists {
		return &StoreError{Op: "Create", Key: inc.ID, Err: errors.New("incident already exists")}
	}
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, &StoreError{Op: "Get", Key: id, Err: soarerr.ErrIncidentNotFound}
	}
	return inc.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Incident) error) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, &StoreError{Op: "Update", Key: id, Err: soarerr.ErrIncidentNotFound}
	}

	updated := inc.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id
	s.incidents[id] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Incident, error) {
	s.mu.RLock()
	out := make([]*Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Clone())
	}
	s.mu.RUnlock()

	sortIncidents(out)
	return out, nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return &StoreError{Op: "SaveExecution", Err: errors.New("execution id is required")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.executions[exec.IncidentID]
	for i, existing := range list {
		if existing.ID == exec.ID {
			list[i] = cloneExecution(exec)
			return nil
		}
	}
	s.executions[exec.IncidentID] = append(list, cloneExecution(exec))
	s.execCount++
	return nil
}

func (s *MemoryStore) Executions(ctx context.Context, incidentID string) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.executions[incidentID]
	out := make([]*Execution, len(list))
	for i, e := range list {
		out[i] = cloneExecution(e)
	}
	return out, nil
}

func (s *MemoryStore) ExecutionCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execCount, nil
}

func cloneExecution(e *Execution) *Execution {
	c := *e
	c.Steps = append([]StepExecution(nil), e.Steps...)
	c.Context = maps.Clone(e.Context)
	return &c
}

func sortIncidents(list []*Incident) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
