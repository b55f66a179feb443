package departments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNotFound is returned when a department does not exist.
var ErrNotFound = errors.New("department not found")

// ErrAlreadyExists is returned when a department name is taken.
var ErrAlreadyExists = errors.New("department already exists")

// ErrInvalid is wrapped by schema and department validation failures.
var ErrInvalid = errors.New("invalid department")

// Store persists departments and their schemas.
type Store interface {
	// Create inserts d and sets its ID and CreatedAt.
	Create(ctx context.Context, d *Department) error
	// LoadAll returns every department with its fields.
	LoadAll(ctx context.Context) ([]*Department, error)
	// ReplaceFields swaps the whole field list of a department.
	ReplaceFields(ctx context.Context, id int64, fields []FieldConfig) error
}

// InMemoryStore implements Store for tests and the CLI.
type InMemoryStore struct {
	depts  map[int64]*Department
	nextID int64
	mu     sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{depts: make(map[int64]*Department)}
}

func (s *InMemoryStore) Create(_ context.Context, d *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.depts {
		if existing.Name == d.Name {
			return fmt.Errorf("department %q: %w", d.Name, ErrAlreadyExists)
		}
	}
	s.nextID++
	d.ID = s.nextID
	d.CreatedAt = time.Now()
	s.depts[d.ID] = clone(d)
	return nil
}

func (s *InMemoryStore) LoadAll(_ context.Context) ([]*Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Department, 0, len(s.depts))
	for _, d := range s.depts {
		out = append(out, clone(d))
	}
	slices.SortFunc(out, func(a, b *Department) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *InMemoryStore) ReplaceFields(_ context.Context, id int64, fields []FieldConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.depts[id]
	if !ok {
		return fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	d.Fields = slices.Clone(fields)
	return nil
}

func clone(d *Department) *Department {
	cp := *d
	cp.Fields = make([]FieldConfig, len(d.Fields))
	for i, f := range d.Fields {
		f.Options = slices.Clone(f.Options)
		cp.Fields[i] = f
	}
	return &cp
}

// PostgresStore implements Store on the departments and
// field_configurations tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, d *Department) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM departments WHERE name = $1)`, d.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check department existence: %w", err)
	}
	if exists {
		return fmt.Errorf("department %q: %w", d.Name, ErrAlreadyExists)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO departments (name) VALUES ($1)
		RETURNING id, created_at
	`, d.Name).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert department: %w", err)
	}
	if err := insertFields(ctx, tx, d.ID, d.Fields); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]*Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.created_at,
			f.field_name, f.field_type, f.is_required, f.options, f.column_order, f.is_active
		FROM departments d
		LEFT JOIN field_configurations f ON f.department_id = d.id
		ORDER BY d.id, f.column_order, f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch departments: %w", err)
	}
	defer rows.Close()

	var (
		out  []*Department
		curr *Department
	)
	for rows.Next() {
		var (
			id        int64
			name      string
			createdAt time.Time
			fname     sql.NullString
			ftype     sql.NullString
			required  sql.NullBool
			options   []byte
			order     sql.NullInt64
			active    sql.NullBool
		)
		if err := rows.Scan(&id, &name, &createdAt, &fname, &ftype, &required, &options, &order, &active); err != nil {
			return nil, fmt.Errorf("failed to scan department row: %w", err)
		}
		if curr == nil || curr.ID != id {
			curr = &Department{ID: id, Name: name, CreatedAt: createdAt}
			out = append(out, curr)
		}
		if !fname.Valid {
			continue
		}

		f := FieldConfig{
			Name:     fname.String,
			Type:     FieldType(ftype.String),
			Required: required.Bool,
			Order:    int(order.Int64),
			Active:   active.Bool,
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &f.Options); err != nil {
				return nil, fmt.Errorf("invalid options for field %q of department %d: %w", f.Name, id, err)
			}
		}
		curr.Fields = append(curr.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating department rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceFields(ctx context.Context, id int64, fields []FieldConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM departments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check department: %w", err)
	}
	if !exists {
		return fmt.Errorf("department %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_configurations WHERE department_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear fields: %w", err)
	}
	if err := insertFields(ctx, tx, id, fields); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFields(ctx context.Context, tx *sql.Tx, id int64, fields []FieldConfig) error {
	for _, f := range fields {
		options, err := json.Marshal(f.Options)
		if err != nil {
			return fmt.Errorf("failed to marshal options: %w", err)
		}
		if f.Options == nil {
			options = []byte("[]")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO field_configurations
				(department_id, field_name, field_type, is_required, options, column_order, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, f.Name, string(f.Type), f.Required, options, f.Order, f.Active)
		if err != nil {
			return fmt.Errorf("failed to insert field %q: %w", f.Name, err)
		}
	}
	return nil
}
