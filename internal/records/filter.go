package records

import (
	"fmt"
	"time"
)

// Op is a comparison operator used in a Condition.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpIn     Op = "in"
	OpExists Op = "exists"
)

// Condition compares one field. Values are compared by their textual form so
// in-memory and JSONB-backed stores agree.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter []Condition

// All matches every record.
var All = Filter(nil)

// Where starts a filter with one condition.
func Where(field string, op Op, value any) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

// And returns a copy of f with one more condition.
func (f Filter) And(field string, op Op, value any) Filter {
	out := make(Filter, 0, len(f)+1)
	out = append(out, f...)
	return append(out, Condition{Field: field, Op: op, Value: value})
}

// Match reports whether fields satisfy every condition.
func (f Filter) Match(fields map[string]any) bool {
	for _, c := range f {
		if !c.match(fields) {
			return false
		}
	}
	return true
}

func (c Condition) match(fields map[string]any) bool {
	v, present := fields[c.Field]
	present = present && v != nil
	switch c.Op {
	case OpEq:
		return present && Text(v) == Text(c.Value)
	case OpNe:
		return !present || Text(v) != Text(c.Value)
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range Values(c.Value) {
			if Text(v) == Text(candidate) {
				return true
			}
		}
		return false
	case OpExists:
		want, _ := c.Value.(bool)
		return present == want
	default:
		return false
	}
}

// Values flattens an OpIn operand into a slice.
func Values(v any) []any {
	switch vs := v.(type) {
	case []any:
		return vs
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Text renders a scalar field value the way a JSONB ->> extraction does.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
