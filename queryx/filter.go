package queryx

import (
	"fmt"
	"strings"
	"time"
)

// Operator identifies a comparison predicate. The names follow the MongoDB
// query operator set so providers can pass them through unchanged.
type Operator string

const (
	OpEq     Operator = "$eq"
	OpNe     Operator = "$ne"
	OpGt     Operator = "$gt"
	OpGte    Operator = "$gte"
	OpLt     Operator = "$lt"
	OpLte    Operator = "$lte"
	OpIn     Operator = "$in"
	OpExists Operator = "$exists"
)

var validOperators = map[Operator]bool{
	OpEq: true, OpNe: true,
	OpGt: true, OpGte: true,
	OpLt: true, OpLte: true,
	OpIn: true, OpExists: true,
}

// Filter describes a matching predicate over documents. Filters are
// immutable once built and have no effect until passed to an operation.
// A nil Filter matches every document.
type Filter interface {
	// Validate checks the filter's structure. Operations reject filters
	// that fail validation with a MALFORMED_REQUEST error.
	Validate() error

	// Matches evaluates the filter against a document. Fields absent from
	// the document simply do not match; absence is never an error.
	Matches(doc *Document) bool
}

// Cond is a single field comparison.
type Cond struct {
	Field string
	Op    Operator
	Value any
}

// Eq matches documents whose field equals the value.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Ne matches documents whose field differs from the value, including
// documents missing the field.
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }

// Gt matches documents whose field is greater than the value.
func Gt(field string, value any) Cond { return Cond{Field: field, Op: OpGt, Value: value} }

// Gte matches documents whose field is greater than or equal to the value.
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }

// Lt matches documents whose field is less than the value.
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// Lte matches documents whose field is less than or equal to the value.
func Lte(field string, value any) Cond { return Cond{Field: field, Op: OpLte, Value: value} }

// In matches documents whose field equals any of the values.
func In(field string, values ...any) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// Exists matches documents that have (or, with want=false, lack) the field.
func Exists(field string, want bool) Cond { return Cond{Field: field, Op: OpExists, Value: want} }

// Validate implements Filter.
func (c Cond) Validate() error {
	if c.Field == "" {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in condition")
	}
	if !validOperators[c.Op] {
		return QueryErrors.New(ErrMalformedRequest).
			WithDetail("field", c.Field).
			WithDetail("operator", string(c.Op))
	}
	switch c.Op {
	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "$in requires an array value").
				WithDetail("field", c.Field)
		}
	case OpExists:
		if _, ok := c.Value.(bool); !ok {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "$exists requires a boolean value").
				WithDetail("field", c.Field)
		}
	}
	return nil
}

// Matches implements Filter.
func (c Cond) Matches(doc *Document) bool {
	value, present := doc.Get(c.Field)

	switch c.Op {
	case OpExists:
		want, _ := c.Value.(bool)
		return present == want
	case OpNe:
		if !present {
			return true
		}
		return compareValues(value, c.Value) != 0
	}

	if !present {
		return false
	}

	switch c.Op {
	case OpEq:
		return compareValues(value, c.Value) == 0
	case OpGt:
		return compareValues(value, c.Value) > 0
	case OpGte:
		return compareValues(value, c.Value) >= 0
	case OpLt:
		return compareValues(value, c.Value) < 0
	case OpLte:
		return compareValues(value, c.Value) <= 0
	case OpIn:
		values, _ := c.Value.([]any)
		for _, v := range values {
			if compareValues(value, v) == 0 {
				return true
			}
		}
	}
	return false
}

// AndFilter matches documents satisfying every clause.
type AndFilter struct {
	Filters []Filter
}

// And combines filters with conjunction semantics.
func And(filters ...Filter) AndFilter { return AndFilter{Filters: filters} }

// Validate implements Filter.
func (f AndFilter) Validate() error { return validateCompound("$and", f.Filters) }

// Matches implements Filter.
func (f AndFilter) Matches(doc *Document) bool {
	for _, clause := range f.Filters {
		if !clause.Matches(doc) {
			return false
		}
	}
	return true
}

// OrFilter matches documents satisfying at least one clause.
type OrFilter struct {
	Filters []Filter
}

// Or combines filters with disjunction semantics.
func Or(filters ...Filter) OrFilter { return OrFilter{Filters: filters} }

// Validate implements Filter.
func (f OrFilter) Validate() error { return validateCompound("$or", f.Filters) }

// Matches implements Filter.
func (f OrFilter) Matches(doc *Document) bool {
	for _, clause := range f.Filters {
		if clause.Matches(doc) {
			return true
		}
	}
	return false
}

// NotFilter inverts a filter.
type NotFilter struct {
	Filter Filter
}

// Not inverts the given filter.
func Not(filter Filter) NotFilter { return NotFilter{Filter: filter} }

// Validate implements Filter.
func (f NotFilter) Validate() error {
	if f.Filter == nil {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "nil filter in $not")
	}
	return f.Filter.Validate()
}

// Matches implements Filter.
func (f NotFilter) Matches(doc *Document) bool {
	return !f.Filter.Matches(doc)
}

func validateCompound(op string, filters []Filter) error {
	if len(filters) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, op+" requires at least one clause")
	}
	for i, clause := range filters {
		if clause == nil {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "nil clause in "+op).
				WithDetail("index", i)
		}
		if err := clause.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFilter validates a possibly-nil filter. Nil means match-all and is
// always valid.
func ValidateFilter(f Filter) error {
	if f == nil {
		return nil
	}
	return f.Validate()
}

// MatchesFilter evaluates a possibly-nil filter against a document.
func MatchesFilter(f Filter, doc *Document) bool {
	if f == nil {
		return true
	}
	return f.Matches(doc)
}

// Compare orders two dynamic values: -1 if a < b, 0 if equal, 1 if a > b.
// Numerics compare across concrete types through float64, times
// chronologically, booleans with false < true; everything else falls back to
// string formatting.
func Compare(a, b any) int {
	return compareValues(a, b)
}

func compareValues(a, b any) int {
	if numA, okA := toFloat64(a); okA {
		if numB, okB := toFloat64(b); okB {
			switch {
			case numA < numB:
				return -1
			case numA > numB:
				return 1
			default:
				return 0
			}
		}
	}

	if timeA, okA := a.(time.Time); okA {
		if timeB, okB := b.(time.Time); okB {
			switch {
			case timeA.Before(timeB):
				return -1
			case timeA.After(timeB):
				return 1
			default:
				return 0
			}
		}
	}

	if boolA, okA := a.(bool); okA {
		if boolB, okB := b.(bool); okB {
			switch {
			case boolA == boolB:
				return 0
			case boolB:
				return -1
			default:
				return 1
			}
		}
	}

	strA := fmt.Sprintf("%v", a)
	strB := fmt.Sprintf("%v", b)
	return strings.Compare(strA, strB)
}

// toFloat64 coerces a dynamic value to float64, reporting whether it is numeric.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
