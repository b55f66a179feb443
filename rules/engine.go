package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/logger"
)

// ErrNonNumeric is reported for a formula whose referenced field holds a value
// that is not a number.
var ErrNonNumeric = errors.New("non-numeric field value")

// FieldResolver returns the field names a department's records may carry.
// The engine uses it to reject formulas that reference unknown fields.
type FieldResolver interface {
	KnownFields(departmentID int64) (formula.FieldSet, error)
}

// Engine evaluates the formulas and push conditions held in its stores.
// Parsed formulas are kept by ID and reused until the expression changes.
// Safe for concurrent use.
type Engine struct {
	formulas   FormulaStore
	conditions ConditionStore
	cache      ConditionCache
	fields     FieldResolver
	compiled   map[string]*formula.Expr
	mu         sync.RWMutex

	// generations counts invalidations per pair; allGen counts
	// InvalidateConditions calls. A list read from the store is cached only
	// if neither moved while it was being read.
	generations map[Pair]uint64
	allGen      uint64
	genMu       sync.Mutex
}

// NewEngine creates an engine with an in-memory condition cache.
func NewEngine(formulas FormulaStore, conditions ConditionStore) *Engine {
	return NewEngineWithCache(formulas, conditions, NewInMemoryConditionCache(DefaultCacheConfig()))
}

// NewEngineWithCache creates an engine that caches condition lists in cache,
// for example a RedisConditionCache shared by several servers.
func NewEngineWithCache(formulas FormulaStore, conditions ConditionStore, cache ConditionCache) *Engine {
	return &Engine{
		formulas:   formulas,
		conditions: conditions,
		cache:      cache,
		compiled:   make(map[string]*formula.Expr),

		generations: make(map[Pair]uint64),
	}
}

// SetFieldResolver makes AddFormula and UpdateFormula check field references
// against the department schema. Pass nil to disable the check.
func (en *Engine) SetFieldResolver(r FieldResolver) {
	en.mu.Lock()
	en.fields = r
	en.mu.Unlock()
}

// CompileFormula parses def.Expression, checks it against the department
// schema when a resolver is set, and caches the result under def.ID.
func (en *Engine) CompileFormula(def *FormulaDef) (*formula.Expr, error) {
	expr, err := en.compile(def)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	en.compiled[def.ID] = expr
	en.mu.Unlock()
	return expr, nil
}

func (en *Engine) compile(def *FormulaDef) (*formula.Expr, error) {
	expr, err := formula.Parse(def.Expression)
	if err != nil {
		return nil, err
	}

	en.mu.RLock()
	resolver := en.fields
	en.mu.RUnlock()
	if resolver == nil {
		return expr, nil
	}

	known, err := resolver.KnownFields(def.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields of department %d: %w", def.DepartmentID, err)
	}
	if err := formula.Validate(expr, known); err != nil {
		return nil, err
	}
	return expr, nil
}

// expr returns the cached parse of def, parsing again if the cached entry is
// missing or stale.
func (en *Engine) expr(def *FormulaDef) (*formula.Expr, error) {
	en.mu.RLock()
	expr, ok := en.compiled[def.ID]
	en.mu.RUnlock()
	if ok && expr.Source == def.Expression {
		return expr, nil
	}

	expr, err := formula.Parse(def.Expression)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	en.compiled[def.ID] = expr
	en.mu.Unlock()
	return expr, nil
}

// AddFormula validates and compiles def, then stores it. A missing ID is
// generated. The compiled form is dropped again if the store rejects it.
func (en *Engine) AddFormula(ctx context.Context, def *FormulaDef) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return err
	}

	if _, err := en.formulas.Get(ctx, def.ID); err == nil {
		return fmt.Errorf("formula %s: %w", def.ID, ErrAlreadyExists)
	}

	if _, err := en.CompileFormula(def); err != nil {
		return fmt.Errorf("formula validation failed: %w", err)
	}

	if err := en.formulas.Add(ctx, def); err != nil {
		en.mu.Lock()
		delete(en.compiled, def.ID)
		en.mu.Unlock()
		return err
	}

	logger.Debug("formula added", "formula_id", def.ID, "department_id", def.DepartmentID,
		"target_field", def.TargetField)
	return nil
}

// UpdateFormula recompiles and stores def. The previous compiled form stays
// in place when validation or the store fails.
func (en *Engine) UpdateFormula(ctx context.Context, def *FormulaDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	expr, err := en.compile(def)
	if err != nil {
		return fmt.Errorf("formula validation failed: %w", err)
	}

	if err := en.formulas.Update(ctx, def); err != nil {
		return err
	}

	en.mu.Lock()
	if def.Active {
		en.compiled[def.ID] = expr
	} else {
		delete(en.compiled, def.ID)
	}
	en.mu.Unlock()
	return nil
}

// DeleteFormula deactivates a formula and forgets its compiled form.
func (en *Engine) DeleteFormula(ctx context.Context, id string) error {
	if err := en.formulas.Delete(ctx, id); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.compiled, id)
	en.mu.Unlock()
	return nil
}

// Formula returns one active formula.
func (en *Engine) Formula(ctx context.Context, id string) (*FormulaDef, error) {
	return en.formulas.Get(ctx, id)
}

// Formulas lists the active formulas of a department.
func (en *Engine) Formulas(ctx context.Context, departmentID int64) ([]*FormulaDef, error) {
	return en.formulas.ListActive(ctx, departmentID)
}

// EvaluateFormulas runs every active formula of the department against rec.
// A failing formula is reported in its result and does not stop the others.
func (en *Engine) EvaluateFormulas(ctx context.Context, departmentID int64, rec condition.Record) ([]*FormulaResult, error) {
	defs, err := en.formulas.ListActive(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	results := make([]*FormulaResult, 0, len(defs))
	for _, def := range defs {
		res := &FormulaResult{FormulaID: def.ID, TargetField: def.TargetField}
		res.Value, res.Error = en.evaluate(def, rec)
		if res.Error != nil {
			logger.WarnFormula("formula evaluation failed", "formula_id", def.ID,
				"department_id", departmentID, "target_field", def.TargetField, "error", res.Error)
		}
		results = append(results, res)
	}
	return results, nil
}

func (en *Engine) evaluate(def *FormulaDef, rec condition.Record) (float64, error) {
	expr, err := en.expr(def)
	if err != nil {
		return 0, err
	}
	values, err := NumericValues(rec, expr.Fields())
	if err != nil {
		return 0, err
	}
	return expr.Eval(values)
}

// CalculatedFields returns target field to value for every formula of the
// department that evaluated successfully.
func (en *Engine) CalculatedFields(ctx context.Context, departmentID int64, rec condition.Record) (map[string]float64, error) {
	results, err := en.EvaluateFormulas(ctx, departmentID, rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(results))
	for _, r := range results {
		if r.Error == nil {
			out[r.TargetField] = r.Value
		}
	}
	return out, nil
}

// TestFormula evaluates an unsaved expression against sample values.
func (en *Engine) TestFormula(expression string, sample map[string]any) (float64, error) {
	expr, err := formula.Parse(expression)
	if err != nil {
		return 0, err
	}
	values, err := NumericValues(sample, expr.Fields())
	if err != nil {
		return 0, err
	}
	return expr.Eval(values)
}

// ValidateFormula checks syntax and, when known is non-nil, field references.
func (en *Engine) ValidateFormula(expression string, known formula.FieldSet) error {
	if known == nil {
		_, err := formula.Parse(expression)
		return err
	}
	return formula.ValidateExpression(expression, known)
}

// NumericValues extracts the named fields of rec as numbers. Fields absent
// from rec are skipped so evaluation reports them as unknown; nil, empty and
// non-numeric values fail with ErrNonNumeric.
func NumericValues(rec map[string]any, names []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		v, ok := rec[name]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = f
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	if v == nil {
		return 0, ErrNonNumeric
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, ErrNonNumeric
		}
		v = s
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNonNumeric, v)
	}
	return f, nil
}

// AddCondition validates and stores c, then invalidates its pair.
func (en *Engine) AddCondition(ctx context.Context, c *PushCondition) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := en.conditions.Add(ctx, c); err != nil {
		return err
	}
	en.invalidate(ctx, c.Pair())
	return nil
}

// UpdateCondition stores c and invalidates both its old and new pair.
func (en *Engine) UpdateCondition(ctx context.Context, c *PushCondition) error {
	if err := c.Validate(); err != nil {
		return err
	}
	old, err := en.conditions.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := en.conditions.Update(ctx, c); err != nil {
		return err
	}
	en.invalidate(ctx, old.Pair())
	if old.Pair() != c.Pair() {
		en.invalidate(ctx, c.Pair())
	}
	return nil
}

// DeleteCondition deactivates a condition and invalidates its pair.
func (en *Engine) DeleteCondition(ctx context.Context, id string) error {
	old, err := en.conditions.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := en.conditions.Delete(ctx, id); err != nil {
		return err
	}
	en.invalidate(ctx, old.Pair())
	return nil
}

// Condition returns one active push condition.
func (en *Engine) Condition(ctx context.Context, id string) (*PushCondition, error) {
	return en.conditions.Get(ctx, id)
}

// Conditions returns the ordered active conditions of pair, from the cache
// when possible. Cache failures are logged and fall through to the store.
func (en *Engine) Conditions(ctx context.Context, pair Pair) ([]*PushCondition, error) {
	conds, ok, err := en.cache.Get(ctx, pair)
	if err != nil {
		logger.WarnCache("condition cache read failed", "pair", pair.String(), "error", err)
	}
	if ok {
		return conds, nil
	}

	gen, all := en.generation(pair)
	conds, err = en.conditions.List(ctx, pair)
	if err != nil {
		return nil, err
	}

	en.genMu.Lock()
	defer en.genMu.Unlock()
	if en.generations[pair] != gen || en.allGen != all {
		logger.Debug("condition list changed while loading, not caching", "pair", pair.String())
		return conds, nil
	}
	if err := en.cache.Set(ctx, pair, conds); err != nil {
		logger.WarnCache("condition cache write failed", "pair", pair.String(), "error", err)
	}
	return conds, nil
}

func (en *Engine) generation(pair Pair) (uint64, uint64) {
	en.genMu.Lock()
	defer en.genMu.Unlock()
	return en.generations[pair], en.allGen
}

// EvaluatePush decides whether rec should move along pair. A pair without
// conditions never matches.
func (en *Engine) EvaluatePush(ctx context.Context, pair Pair, rec condition.Record) (*PushDecision, error) {
	stored, err := en.Conditions(ctx, pair)
	if err != nil {
		return nil, err
	}

	conds := make([]condition.Condition, len(stored))
	for i, pc := range stored {
		conds[i] = pc.ToCondition()
	}
	if len(conds) > 0 && conds[0].Logic == condition.Or {
		logger.Warn("first push condition uses OR; the rule set always matches",
			"pair", pair.String(), "condition_id", stored[0].ID)
	}

	out := condition.Trace(rec, conds)
	return &PushDecision{
		Pair:       pair,
		Matched:    out.Matched,
		Conditions: len(conds),
		Steps:      out.Steps,
	}, nil
}

// InvalidateConditions drops every cached condition list.
func (en *Engine) InvalidateConditions(ctx context.Context) error {
	en.genMu.Lock()
	en.allGen++
	en.genMu.Unlock()
	return en.cache.InvalidateAll(ctx)
}

func (en *Engine) invalidate(ctx context.Context, pair Pair) {
	en.genMu.Lock()
	en.generations[pair]++
	en.genMu.Unlock()
	if err := en.cache.Invalidate(ctx, pair); err != nil {
		logger.WarnCache("condition cache invalidation failed", "pair", pair.String(), "error", err)
	}
}
