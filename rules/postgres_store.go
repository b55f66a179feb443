package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/tripflow/condition"
)

// PostgresFormulaStore implements FormulaStore backed by the formulas table.
type PostgresFormulaStore struct {
	db *sql.DB
}

// NewPostgresFormulaStore creates a PostgreSQL-backed FormulaStore.
func NewPostgresFormulaStore(db *sql.DB) *PostgresFormulaStore {
	return &PostgresFormulaStore{db: db}
}

func (s *PostgresFormulaStore) Add(ctx context.Context, f *FormulaDef) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM formulas WHERE id = $1)
	`, f.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check formula existence: %w", err)
	}
	if exists {
		return fmt.Errorf("formula %s: %w", f.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO formulas (id, department_id, target_field, formula_expression,
			description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ID, f.DepartmentID, f.TargetField, f.Expression, f.Description, f.Active,
		f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert formula: %w", err)
	}
	return nil
}

func (s *PostgresFormulaStore) Get(ctx context.Context, id string) (*FormulaDef, error) {
	var f FormulaDef
	err := s.db.QueryRowContext(ctx, `
		SELECT id, department_id, target_field, formula_expression, description,
			is_active, created_at, updated_at
		FROM formulas
		WHERE id = $1 AND is_active = true
	`, id).Scan(&f.ID, &f.DepartmentID, &f.TargetField, &f.Expression, &f.Description,
		&f.Active, &f.CreatedAt, &f.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("formula %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get formula: %w", err)
	}
	return &f, nil
}

func (s *PostgresFormulaStore) ListActive(ctx context.Context, departmentID int64) ([]*FormulaDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department_id, target_field, formula_expression, description,
			is_active, created_at, updated_at
		FROM formulas
		WHERE department_id = $1 AND is_active = true
		ORDER BY created_at ASC, id ASC
	`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list formulas: %w", err)
	}
	defer rows.Close()

	var list []*FormulaDef
	for rows.Next() {
		var f FormulaDef
		if err := rows.Scan(&f.ID, &f.DepartmentID, &f.TargetField, &f.Expression,
			&f.Description, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan formula: %w", err)
		}
		list = append(list, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating formulas: %w", err)
	}
	return list, nil
}

func (s *PostgresFormulaStore) Update(ctx context.Context, f *FormulaDef) error {
	existing, err := s.Get(ctx, f.ID)
	if err != nil {
		return err
	}

	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE formulas
		SET department_id = $1, target_field = $2, formula_expression = $3,
			description = $4, is_active = $5, updated_at = $6
		WHERE id = $7
	`, f.DepartmentID, f.TargetField, f.Expression, f.Description, f.Active, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update formula: %w", err)
	}
	return expectOneRow(result, "formula", f.ID)
}

func (s *PostgresFormulaStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE formulas SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete formula: %w", err)
	}
	return expectOneRow(result, "formula", id)
}

// PostgresConditionStore implements ConditionStore backed by the
// push_conditions table.
type PostgresConditionStore struct {
	db *sql.DB
}

// NewPostgresConditionStore creates a PostgreSQL-backed ConditionStore.
func NewPostgresConditionStore(db *sql.DB) *PostgresConditionStore {
	return &PostgresConditionStore{db: db}
}

func (s *PostgresConditionStore) Add(ctx context.Context, c *PushCondition) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM push_conditions WHERE id = $1)
	`, c.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check push condition existence: %w", err)
	}
	if exists {
		return fmt.Errorf("push condition %s: %w", c.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO push_conditions (id, source_department_id, target_department_id,
			field_name, operator, value, logic_operator, condition_order, is_active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.SourceDepartmentID, c.TargetDepartmentID, c.FieldName, string(c.Operator),
		nullString(c.Value), string(c.Logic), c.Order, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert push condition: %w", err)
	}
	return nil
}

const conditionColumns = `id, source_department_id, target_department_id, field_name,
	operator, value, logic_operator, condition_order, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCondition(row rowScanner) (*PushCondition, error) {
	var (
		c       PushCondition
		op      string
		value   sql.NullString
		logicOp string
	)
	if err := row.Scan(&c.ID, &c.SourceDepartmentID, &c.TargetDepartmentID, &c.FieldName,
		&op, &value, &logicOp, &c.Order, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Operator = condition.Operator(op)
	if value.Valid {
		c.Value = condition.Str(value.String)
	}
	logic, err := condition.ParseLogic(logicOp)
	if err != nil {
		return nil, fmt.Errorf("push condition %s: %w", c.ID, err)
	}
	c.Logic = logic
	return &c, nil
}

func (s *PostgresConditionStore) Get(ctx context.Context, id string) (*PushCondition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conditionColumns+`
		FROM push_conditions
		WHERE id = $1 AND is_active = true
	`, id)

	c, err := scanCondition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("push condition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get push condition: %w", err)
	}
	return c, nil
}

func (s *PostgresConditionStore) List(ctx context.Context, pair Pair) ([]*PushCondition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conditionColumns+`
		FROM push_conditions
		WHERE source_department_id = $1 AND target_department_id = $2 AND is_active = true
		ORDER BY condition_order ASC, created_at ASC, id ASC
	`, pair.Source, pair.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to list push conditions: %w", err)
	}
	defer rows.Close()

	var list []*PushCondition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan push condition: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push conditions: %w", err)
	}
	return list, nil
}

func (s *PostgresConditionStore) Update(ctx context.Context, c *PushCondition) error {
	existing, err := s.Get(ctx, c.ID)
	if err != nil {
		return err
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE push_conditions
		SET source_department_id = $1, target_department_id = $2, field_name = $3,
			operator = $4, value = $5, logic_operator = $6, condition_order = $7,
			is_active = $8, updated_at = $9
		WHERE id = $10
	`, c.SourceDepartmentID, c.TargetDepartmentID, c.FieldName, string(c.Operator),
		nullString(c.Value), string(c.Logic), c.Order, c.Active, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update push condition: %w", err)
	}
	return expectOneRow(result, "push condition", c.ID)
}

func (s *PostgresConditionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE push_conditions SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete push condition: %w", err)
	}
	return expectOneRow(result, "push condition", id)
}

func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
