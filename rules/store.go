package rules

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// FormulaStore manages formula persistence and retrieval.
type FormulaStore interface {
	// Add inserts a new formula. CreatedAt and UpdatedAt are set by the store.
	Add(ctx context.Context, f *FormulaDef) error

	// Get returns an active formula by ID.
	Get(ctx context.Context, id string) (*FormulaDef, error)

	// ListActive returns the active formulas of a department, oldest first.
	ListActive(ctx context.Context, departmentID int64) ([]*FormulaDef, error)

	// Update replaces an existing formula, keeping CreatedAt.
	Update(ctx context.Context, f *FormulaDef) error

	// Delete deactivates a formula.
	Delete(ctx context.Context, id string) error
}

// ConditionStore manages push condition persistence and retrieval.
type ConditionStore interface {
	Add(ctx context.Context, c *PushCondition) error
	Get(ctx context.Context, id string) (*PushCondition, error)

	// List returns the active conditions of a pair ordered by Order, then
	// creation time.
	List(ctx context.Context, pair Pair) ([]*PushCondition, error)

	Update(ctx context.Context, c *PushCondition) error
	Delete(ctx context.Context, id string) error
}

// InMemoryFormulaStore implements FormulaStore using a map.
type InMemoryFormulaStore struct {
	formulas map[string]*FormulaDef
	mu       sync.RWMutex
}

// NewInMemoryFormulaStore creates an empty in-memory formula store.
func NewInMemoryFormulaStore() *InMemoryFormulaStore {
	return &InMemoryFormulaStore{formulas: make(map[string]*FormulaDef)}
}

func (s *InMemoryFormulaStore) Add(_ context.Context, f *FormulaDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.formulas[f.ID]; exists {
		return fmt.Errorf("formula %s: %w", f.ID, ErrAlreadyExists)
	}

	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	cp := *f
	s.formulas[f.ID] = &cp
	return nil
}

func (s *InMemoryFormulaStore) Get(_ context.Context, id string) (*FormulaDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, exists := s.formulas[id]
	if !exists || !f.Active {
		return nil, fmt.Errorf("formula %s: %w", id, ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *InMemoryFormulaStore) ListActive(_ context.Context, departmentID int64) ([]*FormulaDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*FormulaDef
	for _, f := range s.formulas {
		if f.Active && f.DepartmentID == departmentID {
			cp := *f
			active = append(active, &cp)
		}
	}
	slices.SortFunc(active, func(a, b *FormulaDef) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return active, nil
}

func (s *InMemoryFormulaStore) Update(_ context.Context, f *FormulaDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.formulas[f.ID]
	if !exists || !existing.Active {
		return fmt.Errorf("formula %s: %w", f.ID, ErrNotFound)
	}

	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now()
	cp := *f
	s.formulas[f.ID] = &cp
	return nil
}

func (s *InMemoryFormulaStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, exists := s.formulas[id]
	if !exists || !f.Active {
		return fmt.Errorf("formula %s: %w", id, ErrNotFound)
	}
	f.Active = false
	f.UpdatedAt = time.Now()
	return nil
}

// InMemoryConditionStore implements ConditionStore using a map.
type InMemoryConditionStore struct {
	conditions map[string]*PushCondition
	mu         sync.RWMutex
}

// NewInMemoryConditionStore creates an empty in-memory condition store.
func NewInMemoryConditionStore() *InMemoryConditionStore {
	return &InMemoryConditionStore{conditions: make(map[string]*PushCondition)}
}

func (s *InMemoryConditionStore) Add(_ context.Context, c *PushCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conditions[c.ID]; exists {
		return fmt.Errorf("push condition %s: %w", c.ID, ErrAlreadyExists)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.conditions[c.ID] = &cp
	return nil
}

func (s *InMemoryConditionStore) Get(_ context.Context, id string) (*PushCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.conditions[id]
	if !exists || !c.Active {
		return nil, fmt.Errorf("push condition %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryConditionStore) List(_ context.Context, pair Pair) ([]*PushCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*PushCondition
	for _, c := range s.conditions {
		if c.Active && c.Pair() == pair {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortConditions(out)
	return out, nil
}

func (s *InMemoryConditionStore) Update(_ context.Context, c *PushCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.conditions[c.ID]
	if !exists || !existing.Active {
		return fmt.Errorf("push condition %s: %w", c.ID, ErrNotFound)
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	cp := *c
	s.conditions[c.ID] = &cp
	return nil
}

func (s *InMemoryConditionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.conditions[id]
	if !exists || !c.Active {
		return fmt.Errorf("push condition %s: %w", id, ErrNotFound)
	}
	c.Active = false
	c.UpdatedAt = time.Now()
	return nil
}

func sortConditions(conds []*PushCondition) {
	slices.SortStableFunc(conds, func(a, b *PushCondition) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
