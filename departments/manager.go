package departments

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/logger"
)

// Manager keeps every department's schema in memory and serves field
// lookups to the formula engine. Schema updates swap the whole department
// value, so readers never see a half-applied schema.
type Manager struct {
	store Store
	depts map[int64]*Department
	mu    sync.RWMutex
}

// NewManager creates an empty manager. Call LoadAll to populate it.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		depts: make(map[int64]*Department),
	}
}

// LoadAll replaces the in-memory view with the store's contents. Departments
// whose stored schema fails validation are still loaded and logged.
func (m *Manager) LoadAll(ctx context.Context) error {
	list, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	depts := make(map[int64]*Department, len(list))
	for _, d := range list {
		if len(d.Fields) > 0 {
			if err := ValidateSchema(d.Fields); err != nil {
				logger.Warn("stored department schema is invalid", "department_id", d.ID, "error", err)
			}
		}
		depts[d.ID] = d
	}

	m.mu.Lock()
	m.depts = depts
	m.mu.Unlock()

	logger.Info("departments loaded", "count", len(depts))
	return nil
}

// Create validates and stores a new department.
func (m *Manager) Create(ctx context.Context, name string, fields []FieldConfig) (*Department, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalid)
	}
	if len(fields) > 0 {
		if err := ValidateSchema(fields); err != nil {
			return nil, err
		}
	}

	d := &Department{Name: name, Fields: slices.Clone(fields)}
	if err := m.store.Create(ctx, d); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.depts[d.ID] = clone(d)
	m.mu.Unlock()
	return d, nil
}

// Get returns a copy of one department.
func (m *Manager) Get(id int64) (*Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.depts[id]
	if !ok {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	return clone(d), nil
}

// List returns all departments ordered by ID.
func (m *Manager) List() []*Department {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Department, 0, len(m.depts))
	for _, d := range m.depts {
		out = append(out, clone(d))
	}
	slices.SortFunc(out, func(a, b *Department) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// UpdateSchema validates fields, persists them and swaps the in-memory
// schema. The old schema stays in effect if either step fails.
func (m *Manager) UpdateSchema(ctx context.Context, id int64, fields []FieldConfig) error {
	if err := ValidateSchema(fields); err != nil {
		return err
	}

	m.mu.RLock()
	existing, ok := m.depts[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("department %d: %w", id, ErrNotFound)
	}

	if err := m.store.ReplaceFields(ctx, id, fields); err != nil {
		return fmt.Errorf("failed to save schema: %w", err)
	}

	next := clone(existing)
	next.Fields = slices.Clone(fields)

	m.mu.Lock()
	m.depts[id] = next
	m.mu.Unlock()

	logger.Info("department schema updated", "department_id", id, "fields", len(fields))
	return nil
}

// forget drops a department from memory. The stored row is kept.
func (m *Manager) forget(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.depts[id]; !ok {
		return fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	delete(m.depts, id)
	return nil
}

// KnownFields returns the active field names of a department.
func (m *Manager) KnownFields(id int64) (formula.FieldSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.depts[id]
	if !ok {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	return d.KnownFields(), nil
}

// NumericFields returns the active number and currency fields of a
// department.
func (m *Manager) NumericFields(id int64) (formula.FieldSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.depts[id]
	if !ok {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	return d.NumericFields(), nil
}
