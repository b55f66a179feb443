package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/logger"
	"github.com/liamcoop/tripflow/rules"
	"github.com/liamcoop/tripflow/workflow"
)

// Formula tester handler
func (s *Server) handleEvaluateFormula(w http.ResponseWriter, r *http.Request) {
	var req EvaluateFormulaRequest
	if !decode(w, r, &req) {
		return
	}

	expr, err := s.formulas.Parse(req.Expression)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid formula", err)
		return
	}
	values, err := rules.NumericValues(req.Values, expr.Fields())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid field value", err)
		return
	}
	if err := formula.Validate(expr, formula.FieldSetOf(values)); err != nil {
		respondError(w, http.StatusBadRequest, "missing field value", err)
		return
	}
	result, err := expr.Eval(values)
	if err != nil {
		respondError(w, http.StatusBadRequest, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateFormulaResponse{Result: result, Fields: expr.Fields()})
}

// Formula validation handler. Invalid formulas are a normal 200 response.
func (s *Server) handleValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req ValidateFormulaRequest
	if !decode(w, r, &req) {
		return
	}

	var known formula.FieldSet
	if req.DepartmentID != 0 {
		fs, err := s.departments.KnownFields(req.DepartmentID)
		if err != nil {
			respondDomainError(w, "department not found", err)
			return
		}
		known = fs
	}

	if err := s.engine.ValidateFormula(req.Expression, known); err != nil {
		respondJSON(w, http.StatusOK, ValidateFormulaResponse{Valid: false, Error: formulaError(err)})
		return
	}
	expr, err := s.formulas.Parse(req.Expression)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to parse validated formula", err)
		return
	}
	respondJSON(w, http.StatusOK, ValidateFormulaResponse{Valid: true, Fields: expr.Fields()})
}

// Ad-hoc condition evaluation handler
func (s *Server) handleEvaluateConditions(w http.ResponseWriter, r *http.Request) {
	var req EvaluateConditionsRequest
	if !decode(w, r, &req) {
		return
	}
	for i, c := range req.Conditions {
		if !c.Operator.Valid() {
			respondError(w, http.StatusBadRequest, "invalid condition "+strconv.Itoa(i),
				errors.New("unknown operator "+string(c.Operator)))
			return
		}
	}

	respondJSON(w, http.StatusOK, condition.Trace(req.Record, condition.Ordered(req.Conditions)))
}

// List departments handler
func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"departments": s.departments.List(),
	})
}

// Create department handler
func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := s.departments.Create(r.Context(), req.Name, req.Fields)
	if err != nil {
		respondDomainError(w, "failed to create department", err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	d, err := s.departments.Get(id)
	if err != nil {
		respondDomainError(w, "department not found", err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Get schema handler
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	d, err := s.departments.Get(id)
	if err != nil {
		respondDomainError(w, "department not found", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"department_id": d.ID,
		"fields":        d.Fields,
	})
}

// Update schema handler. Formulas are not recompiled here; the engine
// reparses stale entries on their next evaluation.
func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	var req SchemaRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.departments.UpdateSchema(r.Context(), id, req.Fields); err != nil {
		respondDomainError(w, "failed to update schema", err)
		return
	}

	report, err := s.schemaReport(r.Context(), id)
	if err != nil {
		respondDomainError(w, "failed to check formulas against schema", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "active",
		"formulas":           report.formulas,
		"brokenFormulas":     report.broken,
		"nonNumericFormulas": report.nonNumeric,
	})
}

// schemaCheck lists the formulas of a department that no longer validate
// against its schema, and those that read fields which are not number or
// currency fields.
type schemaCheck struct {
	formulas   int
	broken     []string
	nonNumeric []string
}

func (s *Server) schemaReport(ctx context.Context, id int64) (*schemaCheck, error) {
	formulas, err := s.engine.Formulas(ctx, id)
	if err != nil {
		return nil, err
	}
	known, err := s.departments.KnownFields(id)
	if err != nil {
		return nil, err
	}
	numeric, err := s.departments.NumericFields(id)
	if err != nil {
		return nil, err
	}

	report := &schemaCheck{formulas: len(formulas), broken: []string{}, nonNumeric: []string{}}
	for _, f := range formulas {
		if err := s.engine.ValidateFormula(f.Expression, known); err != nil {
			report.broken = append(report.broken, f.ID)
			continue
		}
		if err := s.engine.ValidateFormula(f.Expression, numeric); err != nil {
			logger.WarnFormula("formula reads a non-numeric field", "formula_id", f.ID,
				"department_id", id, "error", err)
			report.nonNumeric = append(report.nonNumeric, f.ID)
		}
	}
	return report, nil
}

func (s *Server) handleValidateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	var req RecordRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.departments.Get(id)
	if err != nil {
		respondDomainError(w, "department not found", err)
		return
	}

	if err := d.ValidateRecord(req.Record); err != nil {
		respondDomainError(w, "invalid record", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// Calculate handler runs every active formula of the department.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	var req RecordRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := s.engine.EvaluateFormulas(r.Context(), id, req.Record)
	if err != nil {
		respondDomainError(w, "calculation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": formulaResults(results)})
}

// List formulas handler
func (s *Server) handleListFormulas(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	formulas, err := s.engine.Formulas(r.Context(), id)
	if err != nil {
		respondDomainError(w, "failed to list formulas", err)
		return
	}
	if formulas == nil {
		formulas = []*rules.FormulaDef{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"formulas": formulas})
}

// Create formula handler
func (s *Server) handleCreateFormula(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deptId")
	if !ok {
		return
	}
	var req FormulaRequest
	if !decode(w, r, &req) {
		return
	}

	def := &rules.FormulaDef{
		DepartmentID: id,
		TargetField:  req.TargetField,
		Expression:   req.Expression,
		Description:  req.Description,
		Active:       req.Active == nil || *req.Active,
	}
	if err := s.engine.AddFormula(r.Context(), def); err != nil {
		respondDomainError(w, "failed to add formula", err)
		return
	}
	respondJSON(w, http.StatusCreated, def)
}

// formulaInDepartment loads a formula and checks it belongs to the
// department in the path.
func (s *Server) formulaInDepartment(w http.ResponseWriter, r *http.Request) (*rules.FormulaDef, bool) {
	deptID, ok := pathID(w, r, "deptId")
	if !ok {
		return nil, false
	}
	def, err := s.engine.Formula(r.Context(), chi.URLParam(r, "formulaId"))
	if err == nil && def.DepartmentID != deptID {
		err = rules.ErrNotFound
	}
	if err != nil {
		respondDomainError(w, "formula not found", err)
		return nil, false
	}
	return def, true
}

// Get formula handler
func (s *Server) handleGetFormula(w http.ResponseWriter, r *http.Request) {
	def, ok := s.formulaInDepartment(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// Update formula handler
func (s *Server) handleUpdateFormula(w http.ResponseWriter, r *http.Request) {
	def, ok := s.formulaInDepartment(w, r)
	if !ok {
		return
	}
	var req FormulaRequest
	if !decode(w, r, &req) {
		return
	}

	previous := def.Expression
	if req.TargetField != "" {
		def.TargetField = req.TargetField
	}
	if req.Expression != "" {
		def.Expression = req.Expression
	}
	if req.Description != "" {
		def.Description = req.Description
	}
	if req.Active != nil {
		def.Active = *req.Active
	}
	if err := s.engine.UpdateFormula(r.Context(), def); err != nil {
		respondDomainError(w, "failed to update formula", err)
		return
	}
	if previous != def.Expression {
		s.formulas.Forget(previous)
	}
	respondJSON(w, http.StatusOK, def)
}

// Delete formula handler
func (s *Server) handleDeleteFormula(w http.ResponseWriter, r *http.Request) {
	def, ok := s.formulaInDepartment(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteFormula(r.Context(), def.ID); err != nil {
		respondDomainError(w, "failed to delete formula", err)
		return
	}
	s.formulas.Forget(def.Expression)
	w.WriteHeader(http.StatusNoContent)
}

func pairOf(w http.ResponseWriter, r *http.Request) (rules.Pair, bool) {
	src, ok := pathID(w, r, "src")
	if !ok {
		return rules.Pair{}, false
	}
	dst, ok := pathID(w, r, "dst")
	if !ok {
		return rules.Pair{}, false
	}
	return rules.Pair{Source: src, Target: dst}, true
}

// List conditions handler
func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairOf(w, r)
	if !ok {
		return
	}
	conds, err := s.engine.Conditions(r.Context(), pair)
	if err != nil {
		respondDomainError(w, "failed to list conditions", err)
		return
	}
	if conds == nil {
		conds = []*rules.PushCondition{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conditions": conds})
}

// Create condition handler
func (s *Server) handleCreateCondition(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairOf(w, r)
	if !ok {
		return
	}
	var req ConditionRequest
	if !decode(w, r, &req) {
		return
	}

	c := &rules.PushCondition{
		SourceDepartmentID: pair.Source,
		TargetDepartmentID: pair.Target,
		FieldName:          req.FieldName,
		Operator:           req.Operator,
		Value:              req.Value,
		Logic:              req.Logic,
		Order:              req.Order,
		Active:             req.Active == nil || *req.Active,
	}
	if err := s.engine.AddCondition(r.Context(), c); err != nil {
		respondDomainError(w, "failed to add condition", err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) conditionInPair(w http.ResponseWriter, r *http.Request) (*rules.PushCondition, bool) {
	pair, ok := pairOf(w, r)
	if !ok {
		return nil, false
	}
	c, err := s.engine.Condition(r.Context(), chi.URLParam(r, "conditionId"))
	if err == nil && c.Pair() != pair {
		err = rules.ErrNotFound
	}
	if err != nil {
		respondDomainError(w, "condition not found", err)
		return nil, false
	}
	return c, true
}

// Get condition handler
func (s *Server) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := s.conditionInPair(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Update condition handler. The body replaces the condition's test.
func (s *Server) handleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := s.conditionInPair(w, r)
	if !ok {
		return
	}
	var req ConditionRequest
	if !decode(w, r, &req) {
		return
	}

	c.FieldName = req.FieldName
	c.Operator = req.Operator
	c.Value = req.Value
	c.Logic = req.Logic
	c.Order = req.Order
	if req.Active != nil {
		c.Active = *req.Active
	}
	if err := s.engine.UpdateCondition(r.Context(), c); err != nil {
		respondDomainError(w, "failed to update condition", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Delete condition handler
func (s *Server) handleDeleteCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := s.conditionInPair(w, r)
	if !ok {
		return
	}
	if err := s.engine.DeleteCondition(r.Context(), c.ID); err != nil {
		respondDomainError(w, "failed to delete condition", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Push dry-run handler
func (s *Server) handleEvaluatePush(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairOf(w, r)
	if !ok {
		return
	}
	var req RecordRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := s.engine.EvaluatePush(r.Context(), pair, req.Record)
	if err != nil {
		respondDomainError(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, PushDecisionResponse{
		Pair:       d.Pair,
		Matched:    d.Matched,
		Conditions: d.Conditions,
		Steps:      d.Steps,
	})
}

// Push handler: evaluates the pair's conditions and pushes on a match, or
// pushes unconditionally when force is set.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairOf(w, r)
	if !ok {
		return
	}
	var req PushRequest
	if !decode(w, r, &req) {
		return
	}

	push := &workflow.PushRequest{
		RecordID:           req.RecordID,
		SourceDepartmentID: pair.Source,
		TargetDepartmentID: pair.Target,
		Data:               req.Data,
		PushedBy:           req.PushedBy,
		FieldMapping:       req.FieldMapping,
	}

	if req.Force {
		id, err := s.workflow.Push(r.Context(), push)
		if err != nil {
			respondDomainError(w, "push failed", err)
			return
		}
		respondJSON(w, http.StatusCreated, workflow.Outcome{Pushed: true, NewRecordID: id})
		return
	}

	out, err := s.workflow.AutoPush(r.Context(), push)
	if err != nil {
		respondDomainError(w, "push failed", err)
		return
	}
	status := http.StatusOK
	if out.Pushed {
		status = http.StatusCreated
	}
	respondJSON(w, status, out)
}

func historyFilter(r *http.Request) (workflow.Filter, error) {
	f := workflow.Filter{
		RecordID: r.URL.Query().Get("record_id"),
		Status:   workflow.Status(r.URL.Query().Get("status")),
	}
	var err error
	if f.SourceDepartmentID, err = queryID(r, "source_department_id"); err != nil {
		return f, err
	}
	if f.TargetDepartmentID, err = queryID(r, "target_department_id"); err != nil {
		return f, err
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			return f, err
		}
	}
	return f, nil
}

// Workflow history handler
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query", err)
		return
	}
	entries, err := s.workflow.History(r.Context(), f)
	if err != nil {
		respondDomainError(w, "failed to load history", err)
		return
	}
	if entries == nil {
		entries = []*workflow.HistoryEntry{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{History: entries})
}

// Workflow statistics handler
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query", err)
		return
	}
	stats, err := s.workflow.Statistics(r.Context(), f)
	if err != nil {
		respondDomainError(w, "failed to compute statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
