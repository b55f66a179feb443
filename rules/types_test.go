package rules

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/liamcoop/tripflow/condition"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/validate"
)

func TestFormulaDefValidate(t *testing.T) {
	testCases := []struct {
		name      string
		def       FormulaDef
		wantField string
		wantKind  formula.ErrorKind
	}{
		{name: "valid", def: FormulaDef{DepartmentID: 1, TargetField: "Tong", Expression: "[A] * 2"}},
		{name: "zero department", def: FormulaDef{TargetField: "Tong", Expression: "1"}, wantField: "department_id"},
		{name: "blank target", def: FormulaDef{DepartmentID: 1, Expression: "1"}, wantField: "target_field"},
		{name: "bracket in target", def: FormulaDef{DepartmentID: 1, TargetField: "[Tong]", Expression: "1"}, wantField: "target_field"},
		{name: "long target", def: FormulaDef{DepartmentID: 1, TargetField: strings.Repeat("x", 101), Expression: "1"}, wantField: "target_field"},
		{name: "blank expression", def: FormulaDef{DepartmentID: 1, TargetField: "T"}, wantField: "formula_expression"},
		{name: "bad syntax", def: FormulaDef{DepartmentID: 1, TargetField: "T", Expression: "1 +"}, wantKind: formula.SyntaxError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			switch {
			case tc.wantField != "":
				if _, ok := validate.Fields(err)[tc.wantField]; !ok {
					t.Errorf("Validate() = %v, want failure on %s", err, tc.wantField)
				}
			case tc.wantKind != 0:
				if formula.KindOf(err) != tc.wantKind {
					t.Errorf("Validate() = %v, want %v", err, tc.wantKind)
				}
			default:
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
			}
		})
	}
}

func TestTargetFieldAllowsUnicode(t *testing.T) {
	def := FormulaDef{DepartmentID: 1, TargetField: strings.Repeat("đ", 100), Expression: "1"}
	if err := def.Validate(); err != nil {
		t.Errorf("100-rune target field rejected: %v", err)
	}
}

func TestPushConditionValidateMessages(t *testing.T) {
	c := PushCondition{SourceDepartmentID: 2, TargetDepartmentID: 2, Operator: "like"}
	err := c.Validate()

	var ve *validate.Error
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() = %v, want *validate.Error", err)
	}
	for _, field := range []string{"target_department_id", "field_name", "operator"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Errorf("missing message for %s in %v", field, ve.Fields)
		}
	}
	if !strings.HasPrefix(err.Error(), "validation failed: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestPushConditionToCondition(t *testing.T) {
	pc := &PushCondition{
		ID: "c1", SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Status",
		Operator: condition.Equals, Value: condition.Str("Done"), Logic: condition.Or, Order: 3, Active: true,
	}
	want := condition.Condition{FieldName: "Status", Operator: condition.Equals, Value: condition.Str("Done"),
		Logic: condition.Or, Order: 3}
	if diff := cmp.Diff(want, pc.ToCondition()); diff != "" {
		t.Errorf("ToCondition() mismatch (-want +got):\n%s", diff)
	}
	if pc.Pair() != (Pair{Source: 1, Target: 2}) || pc.Pair().String() != "1->2" {
		t.Errorf("Pair() = %v", pc.Pair())
	}
}

func TestPushConditionJSON(t *testing.T) {
	raw := `{"source_department_id":1,"target_department_id":2,"field_name":"Note",
		"operator":"is_empty","logic_operator":"OR","condition_order":4,"is_active":true}`

	var pc PushCondition
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		t.Fatal(err)
	}
	if pc.Operator != condition.IsEmpty || pc.Logic != condition.Or || pc.Order != 4 || pc.Value != nil {
		t.Errorf("decoded %+v", pc)
	}
	if err := pc.Validate(); err != nil {
		t.Errorf("is_empty without value should validate: %v", err)
	}
}

func TestBusinessRuleErrors(t *testing.T) {
	self := FormulaDef{DepartmentID: 1, TargetField: "Tong", Expression: "[Tong] + 1"}
	if err := self.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("self reference error = %v, want ErrInvalid", err)
	}

	noValue := PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Gia_ca",
		Operator: condition.GreaterThan}
	err := noValue.Validate()
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "requires a value") {
		t.Errorf("missing value error = %v", err)
	}
	if noValue.Logic != condition.And {
		t.Errorf("blank logic should default to AND, got %q", noValue.Logic)
	}

	for _, op := range []condition.Operator{condition.Equals, condition.Contains, condition.StartsWith} {
		empty := PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Ghi_chu",
			Operator: op, Value: condition.Str("")}
		if err := empty.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s with empty value: error = %v, want ErrInvalid", op, err)
		}
	}
	emptyOK := PushCondition{SourceDepartmentID: 1, TargetDepartmentID: 2, FieldName: "Ghi_chu",
		Operator: condition.IsEmpty, Value: condition.Str("")}
	if err := emptyOK.Validate(); err != nil {
		t.Errorf("is_empty ignores its value, got %v", err)
	}
}
