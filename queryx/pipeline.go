package queryx

import "fmt"

// Expr is a value expression over a document, used for group keys and
// accumulator inputs. The variant set is closed: field references, literals,
// and binary arithmetic.
type Expr interface {
	Validate() error

	// Eval computes the expression against a document. Missing fields and
	// non-numeric arithmetic operands evaluate to nil.
	Eval(doc *Document) any

	isExpr()
}

// FieldExpr references a document field.
type FieldExpr struct {
	Name string
}

// Field references a document field in an expression.
func Field(name string) FieldExpr { return FieldExpr{Name: name} }

func (e FieldExpr) isExpr() {}

// Validate implements Expr.
func (e FieldExpr) Validate() error {
	if e.Name == "" {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in expression")
	}
	return nil
}

// Eval implements Expr.
func (e FieldExpr) Eval(doc *Document) any {
	v, ok := doc.Get(e.Name)
	if !ok {
		return nil
	}
	return v
}

// LiteralExpr is a constant value.
type LiteralExpr struct {
	Value any
}

// Literal wraps a constant value in an expression.
func Literal(value any) LiteralExpr { return LiteralExpr{Value: value} }

func (e LiteralExpr) isExpr() {}

// Validate implements Expr.
func (e LiteralExpr) Validate() error { return nil }

// Eval implements Expr.
func (e LiteralExpr) Eval(doc *Document) any { return e.Value }

// ArithOp is a binary arithmetic operator.
type ArithOp string

const (
	OpAdd      ArithOp = "$add"
	OpSubtract ArithOp = "$subtract"
	OpMultiply ArithOp = "$multiply"
	OpDivide   ArithOp = "$divide"
)

// ArithExpr combines two expressions with an arithmetic operator, producing
// derived values such as computed group keys.
type ArithExpr struct {
	Op    ArithOp
	Left  Expr
	Right Expr
}

// Add builds a sum expression.
func Add(left, right Expr) ArithExpr { return ArithExpr{Op: OpAdd, Left: left, Right: right} }

// Subtract builds a difference expression.
func Subtract(left, right Expr) ArithExpr {
	return ArithExpr{Op: OpSubtract, Left: left, Right: right}
}

// Multiply builds a product expression.
func Multiply(left, right Expr) ArithExpr {
	return ArithExpr{Op: OpMultiply, Left: left, Right: right}
}

// Divide builds a quotient expression.
func Divide(left, right Expr) ArithExpr {
	return ArithExpr{Op: OpDivide, Left: left, Right: right}
}

func (e ArithExpr) isExpr() {}

// Validate implements Expr.
func (e ArithExpr) Validate() error {
	switch e.Op {
	case OpAdd, OpSubtract, OpMultiply, OpDivide:
	default:
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "unknown arithmetic operator").
			WithDetail("operator", string(e.Op))
	}
	if e.Left == nil || e.Right == nil {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "arithmetic expression missing operand")
	}
	if err := e.Left.Validate(); err != nil {
		return err
	}
	return e.Right.Validate()
}

// Eval implements Expr.
func (e ArithExpr) Eval(doc *Document) any {
	left, okL := toFloat64(e.Left.Eval(doc))
	right, okR := toFloat64(e.Right.Eval(doc))
	if !okL || !okR {
		return nil
	}
	switch e.Op {
	case OpAdd:
		return left + right
	case OpSubtract:
		return left - right
	case OpMultiply:
		return left * right
	case OpDivide:
		if right == 0 {
			return nil
		}
		return left / right
	}
	return nil
}

// AccumOp is an accumulator operator applied per group partition.
type AccumOp string

const (
	AccumSum   AccumOp = "$sum"
	AccumAvg   AccumOp = "$avg"
	AccumCount AccumOp = "$count"
)

// Accumulator computes one output field per group partition.
type Accumulator struct {
	Name string
	Op   AccumOp
	Expr Expr
}

// Sum accumulates the sum of an expression over each partition.
func Sum(name string, expr Expr) Accumulator {
	return Accumulator{Name: name, Op: AccumSum, Expr: expr}
}

// Avg accumulates the average of an expression over each partition.
func Avg(name string, expr Expr) Accumulator {
	return Accumulator{Name: name, Op: AccumAvg, Expr: expr}
}

// Count accumulates the number of documents in each partition.
func Count(name string) Accumulator {
	return Accumulator{Name: name, Op: AccumCount}
}

// Validate checks the accumulator's structure.
func (a Accumulator) Validate() error {
	if a.Name == "" {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "accumulator missing output name")
	}
	if a.Name == IDField {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "accumulator cannot overwrite _id")
	}
	switch a.Op {
	case AccumSum, AccumAvg:
		if a.Expr == nil {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, string(a.Op)+" requires an expression").
				WithDetail("accumulator", a.Name)
		}
		return a.Expr.Validate()
	case AccumCount:
		return nil
	default:
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "unknown accumulator operator").
			WithDetail("operator", string(a.Op)).
			WithDetail("accumulator", a.Name)
	}
}

// Stage is one step of an aggregation pipeline. The variant set is closed:
// GroupStage, SortStage, LimitStage.
type Stage interface {
	Validate() error
	isStage()
}

// GroupStage partitions its input by a key expression and computes one or
// more accumulators per partition. Output documents carry the group key under
// _id and one field per accumulator.
type GroupStage struct {
	Key          Expr
	Accumulators []Accumulator
}

// Group builds a group stage.
func Group(key Expr, accumulators ...Accumulator) GroupStage {
	return GroupStage{Key: key, Accumulators: accumulators}
}

func (s GroupStage) isStage() {}

// Validate implements Stage.
func (s GroupStage) Validate() error {
	if s.Key == nil {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "$group requires a key expression")
	}
	if err := s.Key.Validate(); err != nil {
		return err
	}
	if len(s.Accumulators) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "$group requires at least one accumulator")
	}
	seen := make(map[string]bool, len(s.Accumulators))
	for _, acc := range s.Accumulators {
		if err := acc.Validate(); err != nil {
			return err
		}
		if seen[acc.Name] {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "duplicate accumulator name").
				WithDetail("accumulator", acc.Name)
		}
		seen[acc.Name] = true
	}
	return nil
}

// SortStage reorders its input by a sort specification, applied to whatever
// keys exist in the stage's input documents.
type SortStage struct {
	Keys SortSpec
}

// SortBy builds a sort stage.
func SortBy(keys ...SortKey) SortStage { return SortStage{Keys: SortSpec(keys)} }

func (s SortStage) isStage() {}

// Validate implements Stage.
func (s SortStage) Validate() error {
	if len(s.Keys) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "$sort requires at least one key")
	}
	return s.Keys.Validate()
}

// LimitStage truncates its input to at most N leading documents, preserving
// input order.
type LimitStage struct {
	N int64
}

// Limit builds a limit stage.
func Limit(n int64) LimitStage { return LimitStage{N: n} }

func (s LimitStage) isStage() {}

// Validate implements Stage.
func (s LimitStage) Validate() error {
	if s.N <= 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "$limit requires a positive count")
	}
	return nil
}

// Pipeline is an ordered sequence of stages executed left to right, each
// stage's output feeding the next.
type Pipeline []Stage

// NewPipeline builds a pipeline from stages.
func NewPipeline(stages ...Stage) Pipeline { return Pipeline(stages) }

// Validate checks every stage.
func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty aggregation pipeline")
	}
	for _, stage := range p {
		if stage == nil {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "nil stage in pipeline")
		}
		if err := stage.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the pipeline over an in-process document set. Embedded engine
// providers share this evaluator; the mongo provider translates the pipeline
// to the server instead.
func (p Pipeline) Run(docs []*Document) ([]*Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	current := docs
	for _, stage := range p {
		switch s := stage.(type) {
		case GroupStage:
			current = runGroup(s, current)
		case SortStage:
			sorted := make([]*Document, len(current))
			copy(sorted, current)
			s.Keys.Sort(sorted)
			current = sorted
		case LimitStage:
			if s.N < int64(len(current)) {
				current = current[:s.N]
			}
		}
	}
	return current, nil
}

type groupState struct {
	key    any
	counts map[string]int64
	sums   map[string]float64
	total  int64
}

func runGroup(stage GroupStage, docs []*Document) []*Document {
	groups := make(map[string]*groupState)
	var order []string

	for _, doc := range docs {
		key := stage.Key.Eval(doc)
		mapKey := fmt.Sprintf("%v", key)

		state, ok := groups[mapKey]
		if !ok {
			state = &groupState{
				key:    key,
				counts: make(map[string]int64),
				sums:   make(map[string]float64),
			}
			groups[mapKey] = state
			order = append(order, mapKey)
		}
		state.total++

		for _, acc := range stage.Accumulators {
			if acc.Op == AccumCount {
				continue
			}
			if n, ok := toFloat64(acc.Expr.Eval(doc)); ok {
				state.sums[acc.Name] += n
				state.counts[acc.Name]++
			}
		}
	}

	out := make([]*Document, 0, len(order))
	for _, mapKey := range order {
		state := groups[mapKey]
		doc := NewDocument().Set(IDField, state.key)
		for _, acc := range stage.Accumulators {
			switch acc.Op {
			case AccumSum:
				doc.Set(acc.Name, state.sums[acc.Name])
			case AccumAvg:
				if state.counts[acc.Name] == 0 {
					doc.Set(acc.Name, nil)
				} else {
					doc.Set(acc.Name, state.sums[acc.Name]/float64(state.counts[acc.Name]))
				}
			case AccumCount:
				doc.Set(acc.Name, state.total)
			}
		}
		out = append(out, doc)
	}
	return out
}
