package scenario

import (
	"context"
	"fmt"
	"sync"
)

// Store serves a tenant's scenario catalogue. Listing order is the tenant's
// declaration order; the matcher uses it as the final tiebreak.
type Store interface {
	// List returns every scenario for the tenant in declaration order.
	List(ctx context.Context, tenantID string) ([]Scenario, error)

	// Put upserts a scenario for the tenant. A new ID appends to the
	// declaration order; an existing ID is replaced in place.
	Put(ctx context.Context, tenantID string, sc Scenario) error

	// Delete removes a scenario. Deleting an unknown ID is a no-op.
	Delete(ctx context.Context, tenantID, scenarioID string) error
}

// MemStore is an in-memory Store for tests and single-node deployments.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]Scenario // tenantID → scenarios in declaration order
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]Scenario)}
}

// Seed replaces the tenant's catalogue wholesale. Scenarios failing
// validation are rejected as a unit.
func (s *MemStore) Seed(tenantID string, scs []Scenario) error {
	for _, sc := range scs {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("scenario: seed tenant %s: %w", tenantID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[tenantID] = append([]Scenario(nil), scs...)
	return nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context, tenantID string) ([]Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Scenario(nil), s.data[tenantID]...), nil
}

// Put implements Store.
func (s *MemStore) Put(_ context.Context, tenantID string, sc Scenario) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("scenario: put: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data[tenantID]
	for i := range list {
		if list[i].ID == sc.ID {
			list[i] = sc
			return nil
		}
	}
	s.data[tenantID] = append(list, sc)
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, tenantID, scenarioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data[tenantID]
	for i := range list {
		if list[i].ID == scenarioID {
			s.data[tenantID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}
