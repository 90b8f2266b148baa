package constraint

import (
	"maps"
	"math"
	"os"
	"path/filepath"
	"testing"

	"mirage/internal/arith"
	"mirage/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type mapSource map[string][]float64

func (m mapSource) Float64s(column string) ([]float64, bool) {
	v, ok := m[column]
	return v, ok
}

func TestParseOperator(t *testing.T) {
	cases := map[string]Operator{
		"lt":       LT,
		" LE ":     LE,
		"<>":       NE,
		"not in":   NotIn,
		"not_like": NotLike,
		">=":       GE,
		"between":  BETWEEN,
	}
	for in, want := range cases {
		got, err := ParseOperator(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseOperator("~=")
	require.ErrorIs(t, err, ErrUnknownOperator)
	require.True(t, NotIn.IsNegated())
	require.True(t, NotIn.IsEquality())
	require.False(t, BETWEEN.IsOrdering())
	require.True(t, GE.IsGreater())
}

func TestGroupsUnion(t *testing.T) {
	g := NewGroups()
	g.Union(5, 3)
	g.Union(7, 5)
	g.Union(9)

	root, ok := g.Find(7)
	require.True(t, ok)
	require.Equal(t, 3, root)
	root, ok = g.Find(9)
	require.True(t, ok)
	require.Equal(t, 9, root)
	_, ok = g.Find(42)
	require.False(t, ok)

	members := g.Members()
	require.Equal(t, []int{3, 5, 7}, members[3])
	require.Equal(t, []int{9}, members[9])
}

func TestGroupsReadersDoNotMutate(t *testing.T) {
	g := NewGroups()
	g.Union(10, 11)
	g.Union(10, 1)
	before := maps.Clone(g.parent)
	require.Equal(t, 10, before[11], "11 still points at its old root")

	root, ok := g.Find(11)
	require.True(t, ok)
	require.Equal(t, 1, root)
	require.Equal(t, []int{1, 10, 11}, g.Members()[1])
	require.Equal(t, before, g.parent)
}

func TestWorkloadBuild(t *testing.T) {
	f := File{
		Parameters:     []FileParameter{{ID: 1, CanMerge: true}},
		IdentityGroups: [][]int{{1, 4}},
		Constraints: []FileConstraint{
			{Table: "orders", Column: "o_status", Operator: "eq", Probability: "0.25", Parameters: []int{1}},
			{Table: "orders", Column: "o_date", Operator: "between", Probability: "0.4",
				Lower: &FileSide{Operator: "ge", Parameters: []int{2}},
				Upper: &FileSide{Operator: "lt", Parameters: []int{3}}},
			{Table: "lineitem", Expression: "l_price * (1 - l_discount)", Operator: "<", Probability: "0.5", Parameters: []int{6}},
		},
		Joins: []FileJoin{{Left: "lineitem.l_orderkey", Right: "orders.o_orderkey", Parameters: []int{4, 5}}},
	}
	w, err := f.Build()
	require.NoError(t, err)
	require.Len(t, w.Records, 2)
	require.Len(t, w.MultiColumns, 1)
	require.True(t, w.Parameter(1).CanMerge)

	between := w.RecordsFor("orders", "o_date")
	require.Len(t, between, 1)
	require.Equal(t, GE, between[0].Lower.Operator)
	require.Equal(t, LT, between[0].Upper.Operator)
	require.Equal(t, 3, between[0].Upper.Parameters[0].ID)

	mc := w.MultiColumnsFor("lineitem")[0]
	require.Equal(t, []string{"lineitem.l_discount", "lineitem.l_price"}, arith.Columns(mc.Expr))

	r1, _ := w.Groups.Find(1)
	r5, _ := w.Groups.Find(5)
	require.Equal(t, r1, r5)
}

func TestWorkloadBuildRejects(t *testing.T) {
	cases := []FileConstraint{
		{Table: "t", Column: "c", Operator: "eq", Probability: "1.5"},
		{Table: "t", Column: "c", Operator: "isnull", Probability: "0.1"},
		{Table: "t", Column: "c", Operator: "between", Probability: "0.1"},
		{Table: "t", Column: "c", Operator: "between", Probability: "0.1",
			Lower: &FileSide{Operator: "le"}, Upper: &FileSide{Operator: "le"}},
		{Table: "t", Expression: "a + b", Operator: "eq", Probability: "0.1"},
		{Column: "c", Operator: "eq", Probability: "0.1"},
	}
	for i, fc := range cases {
		_, err := File{Constraints: []FileConstraint{fc}}.Build()
		require.Error(t, err, "case %d", i)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workload.yaml")
	body := `
parameters:
  - id: 2
    can_merge: true
constraints:
  - table: customer
    column: customer.c_mktsegment
    operator: in
    probability: "0.4"
    parameters: [2, 3]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	w, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, w.Records, 1)
	rec := w.Records[0]
	require.Equal(t, "customer.c_mktsegment", rec.ColumnRef())
	require.Equal(t, IN, rec.Operator)
	require.True(t, rec.Probability.Equal(decimal.RequireFromString("0.4")))
	require.Equal(t, []int{2, 3}, IDs(rec.Parameters))
}

func TestResolveMedian(t *testing.T) {
	const rows = 1001
	a := make([]float64, rows)
	b := make([]float64, rows)
	for i := range a {
		a[i] = float64(i)
		b[i] = 2
	}
	src := mapSource{"t.a": a, "t.b": b}
	node := arith.Binary{Op: arith.OpMul, Left: arith.Column{Name: "t.a"}, Right: arith.Column{Name: "t.b"}}
	param := &Parameter{ID: 1}
	m := &MultiColumn{Table: "t", Expr: node, Operator: LT, Probability: decimal.RequireFromString("0.5"), Parameters: []*Parameter{param}}

	threshold, err := m.Resolve(src, rows, 0)
	require.NoError(t, err)
	require.Equal(t, 1000.0, threshold)
	require.True(t, param.Assigned)
	require.Equal(t, int64(1000), param.Data)
	require.Equal(t, 0.0, a[0], "column data must not be touched")

	product, err := arith.Evaluate(node, src, rows)
	require.NoError(t, err)
	sel := Selectivity(EvaluateThreshold(product, LT, threshold))
	require.InDelta(t, 0.5, sel, 1.0/rows)
}

func TestResolveGreaterWithNulls(t *testing.T) {
	const rows = 100
	a := make([]float64, rows)
	for i := range a {
		a[i] = float64(i)
		if i%10 == 0 {
			a[i] = math.NaN()
		}
	}
	src := mapSource{"t.a": a}
	param := &Parameter{ID: 1}
	m := &MultiColumn{Table: "t", Expr: arith.Column{Name: "t.a"}, Operator: GE, Probability: decimal.RequireFromString("0.3"), Parameters: []*Parameter{param}}

	threshold, err := m.Resolve(src, rows, 2)
	require.NoError(t, err)
	require.Equal(t, int32(2), param.Scale)
	sel := Selectivity(EvaluateThreshold(a, GE, threshold))
	require.InDelta(t, 0.3, sel, 0.02)
	require.InDelta(t, threshold, param.Float(), 1e-9)
}

func TestResolveSaturated(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	src := mapSource{"t.a": a}
	param := &Parameter{ID: 1}
	m := &MultiColumn{Table: "t", Expr: arith.Column{Name: "t.a"}, Operator: LE, Probability: decimal.NewFromInt(1), Parameters: []*Parameter{param}}
	threshold, err := m.Resolve(src, len(a), 0)
	require.NoError(t, err)
	require.Equal(t, 4.0, threshold)

	m.Operator = LT
	threshold, err = m.Resolve(src, len(a), 0)
	require.NoError(t, err)
	require.Equal(t, 5.0, threshold)
	require.Equal(t, 1.0, Selectivity(EvaluateThreshold(a, LT, threshold)))

	m.Operator = EQ
	_, err = m.Resolve(src, len(a), 0)
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestResolveSmallMagnitude(t *testing.T) {
	const rows = 10_000
	a := make([]float64, rows)
	b := make([]float64, rows)
	for i := range a {
		a[i] = 1 + 9*float64(i)/rows
		b[i] = 100 + 900*float64((i*7919)%rows)/rows
	}
	src := mapSource{"t.a": a, "t.b": b}
	node := arith.Binary{Op: arith.OpDiv, Left: arith.Column{Name: "t.a"}, Right: arith.Column{Name: "t.b"}}
	ratios, err := arith.Evaluate(node, src, rows)
	require.NoError(t, err)

	for _, tc := range []struct {
		op Operator
		p  string
	}{
		{LT, "0.2"},
		{LE, "0.2"},
		{GT, "0.35"},
		{GE, "0.35"},
		{LT, "0.5"},
	} {
		param := &Parameter{ID: 1}
		m := &MultiColumn{Table: "t", Expr: node, Operator: tc.op, Probability: decimal.RequireFromString(tc.p), Parameters: []*Parameter{param}}
		threshold, err := m.Resolve(src, rows, 2)
		require.NoError(t, err)
		require.Greater(t, threshold, 0.0, "%s %s", tc.op, tc.p)
		require.GreaterOrEqual(t, param.Scale, int32(2))
		require.Equal(t, threshold, param.Float())

		want, _ := decimal.RequireFromString(tc.p).Float64()
		require.InDelta(t, want, Selectivity(EvaluateThreshold(ratios, tc.op, threshold)), 1e-4, "%s %s", tc.op, tc.p)
	}
}

func TestResolveGreaterSaturatedWithTies(t *testing.T) {
	a := make([]float64, 100)
	for i := range a {
		a[i] = float64(1 + i%10)
	}
	src := mapSource{"t.a": a}
	for _, op := range []Operator{GT, GE} {
		param := &Parameter{ID: 1}
		m := &MultiColumn{Table: "t", Expr: arith.Column{Name: "t.a"}, Operator: op, Probability: decimal.NewFromInt(1), Parameters: []*Parameter{param}}
		threshold, err := m.Resolve(src, len(a), 0)
		require.NoError(t, err)
		require.Equal(t, 1.0, Selectivity(EvaluateThreshold(a, op, threshold)), "%s threshold %g", op, threshold)
	}
}

func TestEvaluateColumn(t *testing.T) {
	null := schema.NullValue
	data := []int64{1, 2, 3, null, 2}
	p := &Parameter{ID: 1, Data: 2, Assigned: true}
	q := &Parameter{ID: 2, Data: 3, Assigned: true}

	require.Equal(t, []bool{false, true, false, false, true}, EvaluateColumn(data, EQ, []*Parameter{p}))
	require.Equal(t, []bool{true, false, true, false, false}, EvaluateColumn(data, NE, []*Parameter{p}))
	require.Equal(t, []bool{false, true, true, false, true}, EvaluateColumn(data, IN, []*Parameter{p, q}))
	require.Equal(t, []bool{true, false, false, false, false}, EvaluateColumn(data, LT, []*Parameter{p}))
	require.Equal(t, []bool{false, true, true, false, true}, EvaluateColumn(data, GE, []*Parameter{p}))
	require.Equal(t, []bool{false, false, false, true, false}, EvaluateColumn(data, IsNull, nil))
	require.InDelta(t, 0.4, Selectivity(EvaluateColumn(data, EQ, []*Parameter{p})), 1e-9)
}
