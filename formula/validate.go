package formula

import "sort"

// FieldSet is the set of field names a formula may reference.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from names.
func NewFieldSet(names ...string) FieldSet {
	fs := make(FieldSet, len(names))
	for _, n := range names {
		fs[n] = struct{}{}
	}
	return fs
}

// FieldSetOf returns the key set of a value map.
func FieldSetOf(values map[string]float64) FieldSet {
	fs := make(FieldSet, len(values))
	for n := range values {
		fs[n] = struct{}{}
	}
	return fs
}

// Has reports whether name is in the set.
func (fs FieldSet) Has(name string) bool {
	_, ok := fs[name]
	return ok
}

// Names returns the members in sorted order.
func (fs FieldSet) Names() []string {
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks every field reference in e against known and returns an
// UnknownField error for the first offender in depth-first, left-to-right
// order. It needs no field values, so it can run before any data exists.
func Validate(e *Expr, known FieldSet) error {
	var bad *FieldAccess
	walkFields(e.Root, func(f *FieldAccess) bool {
		if known.Has(f.Name) {
			return true
		}
		bad = f
		return false
	})
	if bad != nil {
		return unknownFieldErr(bad.Name, bad.Offset)
	}
	return nil
}
