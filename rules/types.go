package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/validate"
)

var (
	// ErrNotFound is returned by stores when no active record has the ID.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by Add when the ID is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalid is wrapped by business-rule validation failures that are
	// not struct tag or formula errors.
	ErrInvalid = errors.New("invalid")
)

// FormulaDef is a stored formula that computes TargetField of a department
// from the department's other fields.
type FormulaDef struct {
	ID           string    `json:"id"`
	DepartmentID int64     `json:"department_id" validate:"gt=0"`
	TargetField  string    `json:"target_field" validate:"required,max=100,nobrackets"`
	Expression   string    `json:"formula_expression" validate:"required"`
	Description  string    `json:"description,omitempty"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the record fields and that the expression parses. It does
// not check field names against a department schema.
func (f *FormulaDef) Validate() error {
	if err := validate.Struct(f); err != nil {
		return err
	}
	expr, err := formula.Parse(f.Expression)
	if err != nil {
		return fmt.Errorf("invalid formula expression: %w", err)
	}
	for _, name := range expr.Fields() {
		if name == f.TargetField {
			return fmt.Errorf("%w: formula for %q must not reference its own target field", ErrInvalid, f.TargetField)
		}
	}
	return nil
}

// PushCondition is one stored condition of the rule set that decides whether
// a record moves from SourceDepartmentID to TargetDepartmentID.
type PushCondition struct {
	ID                 string             `json:"id"`
	SourceDepartmentID int64              `json:"source_department_id" validate:"gt=0"`
	TargetDepartmentID int64              `json:"target_department_id" validate:"gt=0,nefield=SourceDepartmentID"`
	FieldName          string             `json:"field_name" validate:"required,max=100"`
	Operator           condition.Operator `json:"operator" validate:"operator"`
	Value              *string            `json:"value,omitempty"`
	Logic              condition.Logic    `json:"logic_operator" validate:"logic"`
	Order              int                `json:"condition_order" validate:"gte=0"`
	Active             bool               `json:"is_active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Validate checks the record fields. Operators other than is_empty and
// is_not_empty need a non-empty comparison value.
func (p *PushCondition) Validate() error {
	if p.Logic == "" {
		p.Logic = condition.And
	}
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.Operator.RequiresValue() && (p.Value == nil || *p.Value == "") {
		return fmt.Errorf("%w: operator %s requires a value", ErrInvalid, p.Operator)
	}
	return nil
}

// Pair returns the department pair the condition belongs to.
func (p *PushCondition) Pair() Pair {
	return Pair{Source: p.SourceDepartmentID, Target: p.TargetDepartmentID}
}

// ToCondition converts the stored record into the evaluator's type.
func (p *PushCondition) ToCondition() condition.Condition {
	return condition.Condition{
		FieldName: p.FieldName,
		Operator:  p.Operator,
		Value:     p.Value,
		Logic:     p.Logic,
		Order:     p.Order,
	}
}

// Pair identifies a push route between two departments.
type Pair struct {
	Source int64 `json:"source_department_id"`
	Target int64 `json:"target_department_id"`
}

func (p Pair) String() string { return fmt.Sprintf("%d->%d", p.Source, p.Target) }

// FormulaResult is the outcome of one formula during EvaluateFormulas.
type FormulaResult struct {
	FormulaID   string
	TargetField string
	Value       float64
	Error       error
}

// PushDecision is the outcome of evaluating a pair's conditions on a record.
type PushDecision struct {
	Pair       Pair
	Matched    bool
	Conditions int
	Steps      []condition.Step
}
