package main

import (
	"errors"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/departments"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/rules"
	"github.com/liamcoop/tripflow/workflow"
)

// API request and response models

// CreateDepartmentRequest is the body of POST /departments.
type CreateDepartmentRequest struct {
	Name   string                    `json:"name" example:"Dispatch"`
	Fields []departments.FieldConfig `json:"fields"`
} // @name CreateDepartmentRequest

// SchemaRequest is the body of PUT /departments/{deptId}/schema.
type SchemaRequest struct {
	Fields []departments.FieldConfig `json:"fields"`
} // @name SchemaRequest

// RecordRequest carries one record for validation or calculation.
type RecordRequest struct {
	Record map[string]any `json:"record"`
} // @name RecordRequest

// FormulaRequest is the body for creating or updating a formula.
type FormulaRequest struct {
	TargetField string `json:"target_field" example:"Trung_binh"`
	Expression  string `json:"formula_expression" example:"([Gia_ca] + [Khoan_luong]) / 2"`
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"is_active,omitempty" example:"true"`
} // @name FormulaRequest

// EvaluateFormulaRequest tests an unsaved formula against sample values.
type EvaluateFormulaRequest struct {
	Expression string         `json:"formula_expression" example:"[Gia_ca] * 2"`
	Values     map[string]any `json:"values"`
} // @name EvaluateFormulaRequest

// EvaluateFormulaResponse is the value of a tested formula.
type EvaluateFormulaResponse struct {
	Result float64  `json:"result" example:"3000000"`
	Fields []string `json:"fields"`
} // @name EvaluateFormulaResponse

// ValidateFormulaRequest checks a formula, optionally against a department schema.
type ValidateFormulaRequest struct {
	Expression   string `json:"formula_expression"`
	DepartmentID int64  `json:"department_id,omitempty"`
} // @name ValidateFormulaRequest

// FormulaErrorResponse describes a *formula.Error.
type FormulaErrorResponse struct {
	Kind     string `json:"kind" example:"unknown field"`
	Position int    `json:"position" example:"12"`
	Field    string `json:"field,omitempty" example:"Gia_ca"`
	Message  string `json:"message"`
} // @name FormulaErrorResponse

// ValidateFormulaResponse is returned for valid and invalid formulas alike.
type ValidateFormulaResponse struct {
	Valid  bool                  `json:"valid"`
	Fields []string              `json:"fields,omitempty"`
	Error  *FormulaErrorResponse `json:"error,omitempty"`
} // @name ValidateFormulaResponse

// FormulaResultResponse is one entry of a department calculation.
type FormulaResultResponse struct {
	FormulaID   string                `json:"formula_id"`
	TargetField string                `json:"target_field"`
	Value       *float64              `json:"value,omitempty"`
	Error       *FormulaErrorResponse `json:"error,omitempty"`
} // @name FormulaResultResponse

// EvaluateConditionsRequest runs ad-hoc conditions against a record.
type EvaluateConditionsRequest struct {
	Conditions []condition.Condition `json:"conditions"`
	Record     condition.Record      `json:"record"`
} // @name EvaluateConditionsRequest

// ConditionRequest is the body for creating or updating a push condition.
type ConditionRequest struct {
	FieldName string             `json:"field_name" example:"Trang_thai"`
	Operator  condition.Operator `json:"operator" example:"equals"`
	Value     *string            `json:"value,omitempty" example:"Hoàn thành"`
	Logic     condition.Logic    `json:"logic_operator" example:"AND"`
	Order     int                `json:"condition_order" example:"1"`
	Active    *bool              `json:"is_active,omitempty"`
} // @name ConditionRequest

// PushDecisionResponse is a dry run of a pair's conditions.
type PushDecisionResponse struct {
	Pair       rules.Pair       `json:"pair"`
	Matched    bool             `json:"matched"`
	Conditions int              `json:"conditions"`
	Steps      []condition.Step `json:"steps"`
} // @name PushDecisionResponse

// PushRequest is the body of POST /push/{src}/{dst}.
type PushRequest struct {
	RecordID     string            `json:"record_id" example:"trip-42"`
	Data         map[string]any    `json:"record_data"`
	PushedBy     string            `json:"pushed_by,omitempty"`
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
	// Force pushes without evaluating conditions.
	Force bool `json:"force,omitempty"`
} // @name PushRequest

// HistoryResponse lists workflow history entries.
type HistoryResponse struct {
	History []*workflow.HistoryEntry `json:"history"`
} // @name HistoryResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string            `json:"error" example:"validation failed"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
} // @name ErrorResponse

func formulaError(err error) *FormulaErrorResponse {
	var fe *formula.Error
	if !errors.As(err, &fe) {
		return &FormulaErrorResponse{Position: -1, Message: err.Error()}
	}
	return &FormulaErrorResponse{
		Kind:     fe.Kind.String(),
		Position: fe.Pos,
		Field:    fe.Field,
		Message:  fe.Error(),
	}
}

func formulaResults(results []*rules.FormulaResult) []FormulaResultResponse {
	out := make([]FormulaResultResponse, 0, len(results))
	for _, r := range results {
		resp := FormulaResultResponse{FormulaID: r.FormulaID, TargetField: r.TargetField}
		if r.Error != nil {
			resp.Error = formulaError(r.Error)
		} else {
			v := r.Value
			resp.Value = &v
		}
		out = append(out, resp)
	}
	return out
}
