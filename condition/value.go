package condition

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Stringify returns the representation a record value is compared by:
// strings verbatim, integers in base 10, floats in shortest non-exponent
// form (2000000, 12.5), booleans as true/false and nil as "".
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

// toNumber parses a string representation as a float. Surrounding
// whitespace is ignored; anything else that is not a plain number fails.
func toNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, false
	}
	return f, true
}
