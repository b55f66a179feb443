package condition

import (
	"encoding/json"
	"testing"
)

func TestApplyOperators(t *testing.T) {
	testCases := []struct {
		name  string
		op    Operator
		value any
		cmp   *string
		want  bool
	}{
		{"equals string", Equals, "Done", Str("Done"), true},
		{"equals is case-sensitive", Equals, "done", Str("Done"), false},
		{"equals int against text", Equals, 2000000, Str("2000000"), true},
		{"equals whole float", Equals, 2000000.0, Str("2000000"), true},
		{"equals fractional float", Equals, 12.5, Str("12.5"), true},
		{"equals bool", Equals, true, Str("true"), true},
		{"equals json number", Equals, json.Number("15"), Str("15"), true},
		{"not equals", NotEquals, "Pending", Str("Done"), true},
		{"not equals same", NotEquals, "Done", Str("Done"), false},

		{"contains", Contains, "Hà Nội - Hải Phòng", Str("Hải Phòng"), true},
		{"contains is case-sensitive", Contains, "Ha Noi", Str("noi"), false},
		{"not contains", NotContains, "Ha Noi", Str("Da Nang"), true},
		{"not contains case-sensitive", NotContains, "Ha Noi", Str("noi"), true},
		{"starts with", StartsWith, "VN-12345", Str("VN-"), true},
		{"starts with case-sensitive", StartsWith, "vn-12345", Str("VN-"), false},
		{"ends with", EndsWith, "trip-2024", Str("2024"), true},
		{"ends with miss", EndsWith, "trip-2024", Str("2023"), false},

		{"greater than", GreaterThan, 2000000, Str("1000000"), true},
		{"greater than equal values", GreaterThan, 5, Str("5"), false},
		{"greater than numeric string", GreaterThan, "1500.5", Str("1500"), true},
		{"greater than padded", GreaterThan, " 10 ", Str(" 9"), true},
		{"greater than non-numeric field", GreaterThan, "abc", Str("1"), false},
		{"greater than non-numeric value", GreaterThan, 10, Str("ten"), false},
		{"greater than empty value", GreaterThan, 10, Str(""), false},
		{"greater than nil value", GreaterThan, 10, nil, false},
		{"less than", LessThan, -3.5, Str("0"), true},
		{"less than false", LessThan, 3, Str("2"), false},
		{"greater or equal", GreaterOrEqual, 5, Str("5"), true},
		{"greater or equal false", GreaterOrEqual, 4.99, Str("5"), false},
		{"less or equal", LessOrEqual, "5", Str("5.0"), true},
		{"less or equal non-numeric", LessOrEqual, "5,0", Str("6"), false},

		{"is empty on empty string", IsEmpty, "", nil, true},
		{"is empty ignores value", IsEmpty, "", Str("anything"), true},
		{"is empty on text", IsEmpty, "x", nil, false},
		{"is empty on zero", IsEmpty, 0, nil, false},
		{"is not empty", IsNotEmpty, "x", nil, true},
		{"is not empty on empty string", IsNotEmpty, "", Str("x"), false},

		{"unknown operator", Operator("matches"), "x", Str("x"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Apply(tc.op, tc.value, true, tc.cmp); got != tc.want {
				t.Errorf("Apply(%s, %v, %v) = %v, want %v", tc.op, tc.value, deref(tc.cmp), got, tc.want)
			}
		})
	}
}

// Absent or nil fields only satisfy is_empty; every other operator fails
// closed, including the negative ones.
func TestApplyMissingField(t *testing.T) {
	for _, op := range Operators {
		want := op == IsEmpty

		if got := Apply(op, nil, false, Str("Done")); got != want {
			t.Errorf("Apply(%s) on absent field = %v, want %v", op, got, want)
		}
		if got := Apply(op, nil, true, Str("Done")); got != want {
			t.Errorf("Apply(%s) on nil field = %v, want %v", op, got, want)
		}
	}
}

func TestOperatorMetadata(t *testing.T) {
	if len(Operators) != 12 {
		t.Fatalf("expected 12 operators, got %d", len(Operators))
	}
	for _, op := range Operators {
		if !op.Valid() {
			t.Errorf("%s should be valid", op)
		}
	}
	if Operator("like").Valid() {
		t.Error("unknown operator should not be valid")
	}

	if IsEmpty.RequiresValue() || IsNotEmpty.RequiresValue() {
		t.Error("emptiness operators should not require a value")
	}
	if !Equals.RequiresValue() || !GreaterThan.RequiresValue() {
		t.Error("comparison operators should require a value")
	}
	if !LessOrEqual.Numeric() || Contains.Numeric() {
		t.Error("Numeric() misclassifies operators")
	}
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator(" greater_or_equal ")
	if err != nil || op != GreaterOrEqual {
		t.Errorf("ParseOperator() = %q, %v; want greater_or_equal", op, err)
	}
	if _, err := ParseOperator("GREATER_THAN"); err == nil {
		t.Error("operator names are case-sensitive identifiers")
	}
}

func TestStringify(t *testing.T) {
	testCases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{42, "42"},
		{int64(-7), "-7"},
		{2000000.0, "2000000"},
		{0.1, "0.1"},
		{float32(2.5), "2.5"},
		{false, "false"},
		{json.Number("3.14"), "3.14"},
		{[]byte("raw"), "raw"},
	}
	for _, tc := range testCases {
		if got := Stringify(tc.in); got != tc.want {
			t.Errorf("Stringify(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
