package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/formula"
)

type staticFields map[int64]formula.FieldSet

func (s staticFields) KnownFields(dept int64) (formula.FieldSet, error) {
	fs, ok := s[dept]
	if !ok {
		return nil, fmt.Errorf("department %d: %w", dept, ErrNotFound)
	}
	return fs, nil
}

// failingFormulaStore rejects every Add so rollback can be observed.
type failingFormulaStore struct {
	*InMemoryFormulaStore
}

func (failingFormulaStore) Add(context.Context, *FormulaDef) error {
	return errors.New("database unavailable")
}

// countingConditionStore counts List calls to observe cache hits.
type countingConditionStore struct {
	*InMemoryConditionStore
	lists int
	mu    sync.Mutex
}

func (s *countingConditionStore) List(ctx context.Context, pair Pair) ([]*PushCondition, error) {
	s.mu.Lock()
	s.lists++
	s.mu.Unlock()
	return s.InMemoryConditionStore.List(ctx, pair)
}

// pausingConditionStore reads the list on its first List call, then waits
// for release before returning it.
type pausingConditionStore struct {
	*InMemoryConditionStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingConditionStore) List(ctx context.Context, pair Pair) ([]*PushCondition, error) {
	conds, err := s.InMemoryConditionStore.List(ctx, pair)
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return conds, err
}

func newTestEngine() *Engine {
	return NewEngine(NewInMemoryFormulaStore(), NewInMemoryConditionStore())
}

func TestEngineAddFormula(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()

	def := &FormulaDef{DepartmentID: 1, TargetField: "Trung_binh", Expression: "([Gia_ca] + [Khoan_luong]) / 2", Active: true}
	if err := en.AddFormula(ctx, def); err != nil {
		t.Fatalf("AddFormula() failed: %v", err)
	}
	if def.ID == "" {
		t.Fatal("AddFormula() should assign an ID")
	}

	stored, err := en.Formula(ctx, def.ID)
	if err != nil {
		t.Fatalf("Formula() failed: %v", err)
	}
	if stored.Expression != def.Expression {
		t.Errorf("stored expression = %q", stored.Expression)
	}

	if err := en.AddFormula(ctx, &FormulaDef{ID: def.ID, DepartmentID: 1, TargetField: "X", Expression: "1", Active: true}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AddFormula() error = %v, want ErrAlreadyExists", err)
	}
}

func TestEngineAddFormulaValidation(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()
	en.SetFieldResolver(staticFields{1: formula.NewFieldSet("A", "B")})

	testCases := []struct {
		name string
		def  FormulaDef
		kind formula.ErrorKind
	}{
		{"syntax", FormulaDef{DepartmentID: 1, TargetField: "T", Expression: "[A] +"}, formula.SyntaxError},
		{"unbalanced", FormulaDef{DepartmentID: 1, TargetField: "T", Expression: "([A] + [B]"}, formula.UnbalancedParens},
		{"empty", FormulaDef{DepartmentID: 1, TargetField: "T", Expression: "( )"}, formula.EmptyExpression},
		{"unknown field", FormulaDef{DepartmentID: 1, TargetField: "T", Expression: "[A] + [C]"}, formula.UnknownField},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			def := tc.def
			def.Active = true
			err := en.AddFormula(ctx, &def)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := formula.KindOf(err); got != tc.kind {
				t.Errorf("error kind = %v, want %v (%v)", got, tc.kind, err)
			}
		})
	}

	if err := en.AddFormula(ctx, &FormulaDef{DepartmentID: 1, Expression: "[A]"}); err == nil {
		t.Error("missing target field should fail validation")
	}
	if err := en.AddFormula(ctx, &FormulaDef{DepartmentID: 1, TargetField: "A", Expression: "[A] + 1"}); err == nil {
		t.Error("self-referencing formula should fail validation")
	}
	if err := en.AddFormula(ctx, &FormulaDef{DepartmentID: 5, TargetField: "T", Expression: "1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown department error = %v, want ErrNotFound", err)
	}
}

func TestEngineAddFormulaRollback(t *testing.T) {
	ctx := context.Background()
	en := NewEngine(failingFormulaStore{NewInMemoryFormulaStore()}, NewInMemoryConditionStore())

	def := &FormulaDef{ID: "f1", DepartmentID: 1, TargetField: "T", Expression: "[A] * 2", Active: true}
	if err := en.AddFormula(ctx, def); err == nil {
		t.Fatal("expected store failure")
	}

	en.mu.RLock()
	_, compiled := en.compiled["f1"]
	en.mu.RUnlock()
	if compiled {
		t.Error("compiled formula should be removed when the store fails")
	}
}

func TestEngineUpdateAndDeleteFormula(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()

	def := &FormulaDef{ID: "f1", DepartmentID: 1, TargetField: "T", Expression: "[A] * 2", Active: true}
	if err := en.AddFormula(ctx, def); err != nil {
		t.Fatal(err)
	}

	bad := *def
	bad.Expression = "[A] * "
	if err := en.UpdateFormula(ctx, &bad); err == nil {
		t.Fatal("UpdateFormula() with invalid expression should fail")
	}
	vals, _ := en.CalculatedFields(ctx, 1, condition.Record{"A": 4})
	if vals["T"] != 8 {
		t.Errorf("old formula should stay active after failed update, got %v", vals)
	}

	upd := *def
	upd.Expression = "[A] * 3"
	if err := en.UpdateFormula(ctx, &upd); err != nil {
		t.Fatalf("UpdateFormula() failed: %v", err)
	}
	vals, _ = en.CalculatedFields(ctx, 1, condition.Record{"A": 4})
	if vals["T"] != 12 {
		t.Errorf("T = %v after update, want 12", vals["T"])
	}

	if err := en.DeleteFormula(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFormula() failed: %v", err)
	}
	vals, _ = en.CalculatedFields(ctx, 1, condition.Record{"A": 4})
	if len(vals) != 0 {
		t.Errorf("deleted formula still evaluated: %v", vals)
	}
	if err := en.DeleteFormula(ctx, "f1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteFormula() error = %v", err)
	}
}

func TestEngineEvaluateFormulasContinuesOnError(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()

	defs := []*FormulaDef{
		{ID: "f1", DepartmentID: 1, TargetField: "Avg", Expression: "([Gia_ca] + [Khoan_luong]) / 2", Active: true},
		{ID: "f2", DepartmentID: 1, TargetField: "Ratio", Expression: "[Gia_ca] / [So_chuyen]", Active: true},
		{ID: "f3", DepartmentID: 1, TargetField: "Fee", Expression: "[Phi] * 1.1", Active: true},
		{ID: "f4", DepartmentID: 1, TargetField: "Label", Expression: "[Ghi_chu] + 1", Active: true},
		{ID: "f5", DepartmentID: 1, TargetField: "Net", Expression: "[Gia_ca] - [Khoan_luong]", Active: true},
	}
	for _, d := range defs {
		if err := en.AddFormula(ctx, d); err != nil {
			t.Fatalf("AddFormula(%s) failed: %v", d.ID, err)
		}
	}

	rec := condition.Record{
		"Gia_ca":      "1000",
		"Khoan_luong": 500,
		"So_chuyen":   0,
		"Ghi_chu":     "gấp",
	}
	results, err := en.EvaluateFormulas(ctx, 1, rec)
	if err != nil {
		t.Fatalf("EvaluateFormulas() failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	byID := make(map[string]*FormulaResult)
	for _, r := range results {
		byID[r.FormulaID] = r
	}
	if r := byID["f1"]; r.Error != nil || r.Value != 750 {
		t.Errorf("f1 = %v, %v; want 750", r.Value, r.Error)
	}
	if r := byID["f2"]; !errors.Is(r.Error, formula.ErrDivisionByZero) {
		t.Errorf("f2 error = %v, want division by zero", r.Error)
	}
	if r := byID["f3"]; !errors.Is(r.Error, formula.ErrUnknownField) {
		t.Errorf("f3 error = %v, want unknown field", r.Error)
	}
	if r := byID["f4"]; !errors.Is(r.Error, ErrNonNumeric) {
		t.Errorf("f4 error = %v, want non-numeric", r.Error)
	}
	if r := byID["f5"]; r.Error != nil || r.Value != 500 {
		t.Errorf("f5 = %v, %v; want 500", r.Value, r.Error)
	}

	calc, err := en.CalculatedFields(ctx, 1, rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(calc) != 2 || calc["Avg"] != 750 || calc["Net"] != 500 {
		t.Errorf("CalculatedFields() = %v", calc)
	}
}

func TestEngineTestFormula(t *testing.T) {
	en := newTestEngine()

	v, err := en.TestFormula("[A] * 2 + [B]", map[string]any{"A": "1.5", "B": 2})
	if err != nil || v != 5 {
		t.Errorf("TestFormula() = %v, %v; want 5", v, err)
	}
	if _, err := en.TestFormula("[A] / 0", map[string]any{"A": 1}); !errors.Is(err, formula.ErrDivisionByZero) {
		t.Errorf("TestFormula() error = %v, want division by zero", err)
	}
	if _, err := en.TestFormula("[A]", map[string]any{"A": nil}); !errors.Is(err, ErrNonNumeric) {
		t.Errorf("TestFormula() error = %v, want non-numeric", err)
	}
}

func TestEngineValidateFormula(t *testing.T) {
	en := newTestEngine()
	if err := en.ValidateFormula("[A] + [Zzz]", nil); err != nil {
		t.Errorf("syntax-only validation failed: %v", err)
	}
	if err := en.ValidateFormula("[A] + [Zzz]", formula.NewFieldSet("A")); !errors.Is(err, formula.ErrUnknownField) {
		t.Errorf("ValidateFormula() error = %v, want unknown field", err)
	}
}

func TestNumericValues(t *testing.T) {
	vals, err := NumericValues(map[string]any{
		"int": 3, "float": 2.5, "str": " 7 ", "ignored": "x",
	}, []string{"int", "float", "str", "absent"})
	if err != nil {
		t.Fatalf("NumericValues() failed: %v", err)
	}
	if vals["int"] != 3 || vals["float"] != 2.5 || vals["str"] != 7 {
		t.Errorf("NumericValues() = %v", vals)
	}
	if _, ok := vals["absent"]; ok {
		t.Error("absent fields must be skipped")
	}

	for _, bad := range []any{"", "abc", nil} {
		if _, err := NumericValues(map[string]any{"f": bad}, []string{"f"}); !errors.Is(err, ErrNonNumeric) {
			t.Errorf("NumericValues(%#v) error = %v, want ErrNonNumeric", bad, err)
		}
	}
}

func TestEngineEvaluatePush(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()
	pair := Pair{Source: 1, Target: 2}

	conds := []*PushCondition{
		{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Status", Operator: condition.Equals,
			Value: condition.Str("Done"), Logic: condition.And, Order: 1, Active: true},
		{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Price", Operator: condition.GreaterThan,
			Value: condition.Str("1000000"), Logic: condition.Or, Order: 2, Active: true},
	}
	for _, c := range conds {
		if err := en.AddCondition(ctx, c); err != nil {
			t.Fatalf("AddCondition() failed: %v", err)
		}
	}

	testCases := []struct {
		name string
		rec  condition.Record
		want bool
	}{
		{"price rescues status", condition.Record{"Status": "Pending", "Price": 2000000.0}, true},
		{"status alone", condition.Record{"Status": "Done", "Price": 10}, true},
		{"neither", condition.Record{"Status": "Pending", "Price": 10}, false},
		{"empty record", condition.Record{}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := en.EvaluatePush(ctx, pair, tc.rec)
			if err != nil {
				t.Fatalf("EvaluatePush() failed: %v", err)
			}
			if d.Matched != tc.want {
				t.Errorf("Matched = %v, want %v (steps %+v)", d.Matched, tc.want, d.Steps)
			}
			if d.Conditions != 2 || len(d.Steps) != 2 {
				t.Errorf("expected 2 evaluated conditions, got %d/%d", d.Conditions, len(d.Steps))
			}
		})
	}

	d, err := en.EvaluatePush(ctx, Pair{Source: 2, Target: 1}, condition.Record{"Status": "Done"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Matched || d.Conditions != 0 {
		t.Errorf("pair without conditions must not match: %+v", d)
	}
}

func TestEngineConditionCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	store := &countingConditionStore{InMemoryConditionStore: NewInMemoryConditionStore()}
	en := NewEngine(NewInMemoryFormulaStore(), store)
	pair := Pair{Source: 1, Target: 2}
	rec := condition.Record{"Status": "Done"}

	c := &PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Status",
		Operator: condition.Equals, Value: condition.Str("Done"), Active: true}
	if err := en.AddCondition(ctx, c); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := en.EvaluatePush(ctx, pair, rec); err != nil {
			t.Fatal(err)
		}
	}
	if store.lists != 1 {
		t.Errorf("store listed %d times, want 1 (cached)", store.lists)
	}

	upd := *c
	upd.Value = condition.Str("Closed")
	if err := en.UpdateCondition(ctx, &upd); err != nil {
		t.Fatalf("UpdateCondition() failed: %v", err)
	}
	d, _ := en.EvaluatePush(ctx, pair, rec)
	if d.Matched {
		t.Error("update should invalidate the cached rule set")
	}
	if store.lists != 2 {
		t.Errorf("store listed %d times, want 2", store.lists)
	}

	if err := en.DeleteCondition(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCondition() failed: %v", err)
	}
	d, _ = en.EvaluatePush(ctx, pair, rec)
	if d.Conditions != 0 || d.Matched {
		t.Errorf("deleted condition still applied: %+v", d)
	}
}

func TestEngineConditionChangeDuringLoadIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := &pausingConditionStore{
		InMemoryConditionStore: NewInMemoryConditionStore(),
		started:                make(chan struct{}),
		release:                make(chan struct{}),
	}
	en := NewEngine(NewInMemoryFormulaStore(), store)
	pair := Pair{Source: 1, Target: 2}
	rec := condition.Record{"Status": "Done"}

	done := make(chan *PushDecision)
	go func() {
		d, err := en.EvaluatePush(ctx, pair, rec)
		if err != nil {
			t.Errorf("EvaluatePush() failed: %v", err)
		}
		done <- d
	}()

	<-store.started
	c := &PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Status",
		Operator: condition.Equals, Value: condition.Str("Done"), Active: true}
	if err := en.AddCondition(ctx, c); err != nil {
		t.Fatalf("AddCondition() failed: %v", err)
	}
	close(store.release)

	if d := <-done; d == nil || d.Conditions != 0 {
		t.Fatalf("in-flight evaluation should see the old empty list, got %+v", d)
	}

	d, err := en.EvaluatePush(ctx, pair, rec)
	if err != nil {
		t.Fatal(err)
	}
	if d.Conditions != 1 || !d.Matched {
		t.Errorf("after AddCondition: conditions=%d matched=%v, want 1 and true", d.Conditions, d.Matched)
	}

	// The same applies to a full invalidation.
	en2 := NewEngine(NewInMemoryFormulaStore(), NewInMemoryConditionStore())
	gen, all := en2.generation(pair)
	if err := en2.InvalidateConditions(ctx); err != nil {
		t.Fatal(err)
	}
	if g, a := en2.generation(pair); g != gen || a == all {
		t.Errorf("InvalidateConditions should bump only the global generation")
	}
}

func TestEngineAddConditionValidation(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()

	testCases := []struct {
		name string
		c    PushCondition
	}{
		{"same department", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 1, FieldName: "A", Operator: condition.IsEmpty}},
		{"missing field", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, Operator: condition.IsEmpty}},
		{"unknown operator", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A", Operator: "like"}},
		{"bad logic", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A", Operator: condition.IsEmpty, Logic: "XOR"}},
		{"value required", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A", Operator: condition.Equals}},
		{"empty value", PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A", Operator: condition.Contains, Value: condition.Str("")}},
		{"bad department", PushCondition{SourceDepartmentID: 0, TargetDepartmentID: 2, FieldName: "A", Operator: condition.IsEmpty}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.c
			if err := en.AddCondition(ctx, &c); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	ok := PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A", Operator: condition.IsNotEmpty, Active: true}
	if err := en.AddCondition(ctx, &ok); err != nil {
		t.Errorf("valid condition rejected: %v", err)
	}
	if ok.Logic != condition.And {
		t.Errorf("blank logic should default to AND, got %q", ok.Logic)
	}
}

func TestEngineConcurrentEvaluate(t *testing.T) {
	ctx := context.Background()
	en := newTestEngine()

	if err := en.AddFormula(ctx, &FormulaDef{ID: "f1", DepartmentID: 1, TargetField: "T", Expression: "[A] * [B]", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := en.AddCondition(ctx, &PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "A",
		Operator: condition.GreaterOrEqual, Value: condition.Str("50"), Active: true}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := condition.Record{"A": i, "B": 2}

			calc, err := en.CalculatedFields(ctx, 1, rec)
			if err != nil {
				errs <- err
				return
			}
			if math.Abs(calc["T"]-float64(i*2)) > 1e-9 {
				errs <- fmt.Errorf("T = %v for A = %d", calc["T"], i)
			}

			d, err := en.EvaluatePush(ctx, Pair{Source: 1, Target: 2}, rec)
			if err != nil {
				errs <- err
				return
			}
			if d.Matched != (i >= 50) {
				errs <- fmt.Errorf("push matched = %v for A = %d", d.Matched, i)
			}
		}(i)
	}

	// Writers run alongside readers.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = en.CompileFormula(&FormulaDef{ID: fmt.Sprintf("tmp-%d", i), Expression: "[A] + 1"})
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
