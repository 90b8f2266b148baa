// Package arith evaluates arithmetic expressions over materialized column
// arrays of one row scope.
package arith

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"mirage/internal/util"

	"github.com/pkg/errors"
)

var (
	// ErrMissingColumnData is returned when a referenced column has not been
	// materialized for the current batch.
	ErrMissingColumnData = errors.New("missing column data")
	// ErrUnsupportedExpr is returned by Parse for non-arithmetic SQL.
	ErrUnsupportedExpr = errors.New("unsupported arithmetic expression")
)

// ColumnSource exposes the float view of materialized columns. Nulls are NaN.
type ColumnSource interface {
	Float64s(column string) ([]float64, bool)
}

// Node is an immutable expression tree node.
type Node interface {
	// Eval returns rows values. The result may alias column data and must not
	// be modified by the caller.
	Eval(src ColumnSource, rows int) ([]float64, error)
	String() string
}

// Op is a binary arithmetic operator.
type Op int

// Binary operators.
const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Column reads a materialized column.
type Column struct {
	Name string
}

// Eval implements Node.
func (c Column) Eval(src ColumnSource, rows int) ([]float64, error) {
	data, ok := src.Float64s(c.Name)
	if !ok {
		return nil, errors.Wrapf(ErrMissingColumnData, "column %s", c.Name)
	}
	if len(data) != rows {
		return nil, errors.Wrapf(ErrMissingColumnData, "column %s has %d rows, want %d", c.Name, len(data), rows)
	}
	return data, nil
}

func (c Column) String() string {
	return c.Name
}

// Constant is a literal.
type Constant struct {
	Value float64
}

// Eval implements Node.
func (c Constant) Eval(_ ColumnSource, rows int) ([]float64, error) {
	out := make([]float64, rows)
	util.ParallelFor(rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = c.Value
		}
	})
	return out, nil
}

func (c Constant) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

// Binary applies Op element-wise.
type Binary struct {
	Op    Op
	Left  Node
	Right Node
}

// Eval implements Node.
func (b Binary) Eval(src ColumnSource, rows int) ([]float64, error) {
	left, err := b.Left.Eval(src, rows)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Eval(src, rows)
	if err != nil {
		return nil, err
	}
	out := make([]float64, rows)
	apply := opFunc(b.Op)
	util.ParallelFor(rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = apply(left[i], right[i])
		}
	})
	return out, nil
}

func (b Binary) String() string {
	return fmt.Sprintf("%s(%s, %s)", b.Op, b.Left, b.Right)
}

func opFunc(op Op) func(l, r float64) float64 {
	switch op {
	case OpSub:
		return func(l, r float64) float64 { return l - r }
	case OpMul:
		return func(l, r float64) float64 { return l * r }
	case OpDiv:
		return func(l, r float64) float64 {
			if r == 0 {
				return math.NaN()
			}
			return l / r
		}
	default:
		return func(l, r float64) float64 { return l + r }
	}
}

// Negate flips the sign of its child.
type Negate struct {
	Child Node
}

// Eval implements Node.
func (n Negate) Eval(src ColumnSource, rows int) ([]float64, error) {
	in, err := n.Child.Eval(src, rows)
	if err != nil {
		return nil, err
	}
	out := make([]float64, rows)
	util.ParallelFor(rows, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = -in[i]
		}
	})
	return out, nil
}

func (n Negate) String() string {
	return fmt.Sprintf("neg(%s)", n.Child)
}

// Evaluate computes node over rows and always returns a fresh slice the caller
// owns.
func Evaluate(node Node, src ColumnSource, rows int) ([]float64, error) {
	if node == nil {
		return nil, errors.Wrap(ErrUnsupportedExpr, "nil expression")
	}
	out, err := node.Eval(src, rows)
	if err != nil {
		return nil, err
	}
	if _, isColumn := node.(Column); isColumn {
		out = append([]float64(nil), out...)
	}
	return out, nil
}

// Columns returns the sorted set of column names referenced by node.
func Columns(node Node) []string {
	seen := make(map[string]struct{})
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Column:
			seen[v.Name] = struct{}{}
		case Binary:
			walk(v.Left)
			walk(v.Right)
		case Negate:
			walk(v.Child)
		}
	}
	if node != nil {
		walk(node)
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Qualify prefixes unqualified column names with table.
func Qualify(node Node, table string) Node {
	switch v := node.(type) {
	case Column:
		if table != "" && !hasQualifier(v.Name) {
			return Column{Name: table + "." + v.Name}
		}
		return v
	case Binary:
		return Binary{Op: v.Op, Left: Qualify(v.Left, table), Right: Qualify(v.Right, table)}
	case Negate:
		return Negate{Child: Qualify(v.Child, table)}
	default:
		return node
	}
}

func hasQualifier(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return true
		}
	}
	return false
}
