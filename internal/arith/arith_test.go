package arith

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type mapSource map[string][]float64

func (m mapSource) Float64s(column string) ([]float64, bool) {
	v, ok := m[column]
	return v, ok
}

func TestEvaluateBinaryTree(t *testing.T) {
	src := mapSource{
		"t.a": {1, 2, 3, 4},
		"t.b": {10, 20, 30, 40},
	}
	// a * (1 - b / 10)
	node := Binary{
		Op:   OpMul,
		Left: Column{Name: "t.a"},
		Right: Binary{
			Op:    OpSub,
			Left:  Constant{Value: 1},
			Right: Binary{Op: OpDiv, Left: Column{Name: "t.b"}, Right: Constant{Value: 10}},
		},
	}
	out, err := Evaluate(node, src, 4)
	require.NoError(t, err)
	require.Equal(t, []float64{0, -2, -6, -12}, out)
	require.Equal(t, "mul(t.a, sub(1, div(t.b, 10)))", node.String())
	require.Equal(t, []string{"t.a", "t.b"}, Columns(node))
}

func TestEvaluateDoesNotMutateSources(t *testing.T) {
	a := []float64{1, 2, 3}
	src := mapSource{"a": a}
	out, err := Evaluate(Column{Name: "a"}, src, 3)
	require.NoError(t, err)
	out[0] = 99
	require.Equal(t, 1.0, a[0])

	_, err = Evaluate(Negate{Child: Column{Name: "a"}}, src, 3)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, a)
}

func TestEvaluateMissingColumn(t *testing.T) {
	src := mapSource{"a": {1, 2}}
	_, err := Evaluate(Binary{Op: OpAdd, Left: Column{Name: "a"}, Right: Column{Name: "b"}}, src, 2)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingColumnData))

	_, err = Evaluate(Column{Name: "a"}, src, 3)
	require.True(t, errors.Is(err, ErrMissingColumnData))
}

func TestNullAndDivisionByZeroPropagateNaN(t *testing.T) {
	src := mapSource{"a": {math.NaN(), 4}, "b": {1, 0}}
	out, err := Evaluate(Binary{Op: OpDiv, Left: Column{Name: "a"}, Right: Column{Name: "b"}}, src, 2)
	require.NoError(t, err)
	require.True(t, math.IsNaN(out[0]))
	require.True(t, math.IsNaN(out[1]))
}

func TestEvaluateLargeParallel(t *testing.T) {
	const n = 100_000
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		a[i] = float64(i)
		b[i] = 2
	}
	out, err := Evaluate(Binary{Op: OpMul, Left: Column{Name: "a"}, Right: Column{Name: "b"}}, mapSource{"a": a, "b": b}, n)
	require.NoError(t, err)
	for i := range out {
		require.Equal(t, float64(2*i), out[i])
	}
}

func TestParse(t *testing.T) {
	node, err := Parse("l_extendedprice * (1 - l_discount)")
	require.NoError(t, err)
	require.Equal(t, "mul(l_extendedprice, sub(1, l_discount))", node.String())

	node, err = Parse("-(lineitem.a + 2.5) / -b")
	require.NoError(t, err)
	require.Equal(t, "div(neg(add(lineitem.a, 2.5)), neg(b))", node.String())

	node, err = Parse("-3 + a")
	require.NoError(t, err)
	require.Equal(t, "add(-3, a)", node.String())

	q := Qualify(node, "t")
	require.Equal(t, []string{"t.a"}, Columns(q))
}

func TestParseRejectsNonArithmetic(t *testing.T) {
	for _, text := range []string{"", "a AND b", "concat(a, b)", "'x' + 1"} {
		_, err := Parse(text)
		require.Error(t, err, text)
	}
}
