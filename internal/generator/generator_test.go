package generator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mirage/internal/constraint"
	"mirage/internal/distribution"
	"mirage/internal/output"
	"mirage/internal/schema"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu        sync.Mutex
	rows      map[string]int
	conflicts []string
	assigned  int
	shifts    map[string]float64
}

func (r *recordingObserver) ObserveBatch(table string, rows int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = map[string]int{}
	}
	r.rows[table] += rows
}

func (r *recordingObserver) NullRelaxed(string, float64) {}
func (r *recordingObserver) DomainResized(string, int64) {}

func (r *recordingObserver) Conflict(column string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, column)
}

func (r *recordingObserver) ParametersAssigned(n int)               { r.assigned = n }
func (r *recordingObserver) ThresholdError(string, string, float64) {}

func (r *recordingObserver) SelectivityShifted(column string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shifts == nil {
		r.shifts = map[string]float64{}
	}
	r.shifts[column] = amount
}

func tpchRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	f := schema.File{Tables: []schema.FileTable{
		{
			Name:        "orders",
			Rows:        2000,
			PrimaryKey:  "o_orderkey",
			ForeignKeys: []schema.FileForeignKey{{Column: "o_custkey", RefTable: "customer"}},
			Columns: []schema.FileColumn{
				{Name: "o_orderkey", Type: "int"},
				{Name: "o_custkey", Type: "int"},
				{Name: "o_totalprice", Type: "decimal", Scale: 2, NDV: 100000, Min: "1.00", Max: "100000.00"},
				{Name: "o_discount", Type: "decimal", Scale: 2, NDV: 11, Min: "0", Max: "0.10"},
			},
		},
		{
			Name:       "customer",
			Rows:       1000,
			PrimaryKey: "c_custkey",
			Columns: []schema.FileColumn{
				{Name: "c_custkey", Type: "int"},
				{Name: "c_acctbal", Type: "decimal", Scale: 2, NDV: 1000, Min: "0", Max: "9999.99", NullFraction: 0.1},
				{Name: "c_mktsegment", Type: "varchar", NDV: 5, AvgLength: 10},
			},
		},
	}}
	reg, err := f.Build()
	require.NoError(t, err)
	return reg
}

func tpchWorkload(t *testing.T) *constraint.Workload {
	t.Helper()
	w, err := constraint.File{
		Constraints: []constraint.FileConstraint{
			{Table: "customer", Column: "c_mktsegment", Operator: "eq", Probability: "0.2", Parameters: []int{1}},
			{Table: "customer", Column: "c_acctbal", Operator: "lt", Probability: "0.3", Parameters: []int{2}},
			{Table: "orders", Expression: "o_totalprice * (1 - o_discount)", Operator: "lt", Probability: "0.5", Parameters: []int{3}},
		},
	}.Build()
	require.NoError(t, err)
	return w
}

func TestBatches(t *testing.T) {
	opts := Options{GeneratorID: 0, GeneratorCount: 2, StepSize: 10}
	require.Equal(t, []Batch{{Start: 0, Size: 10}, {Start: 20, Size: 5}}, Batches(25, opts))
	opts.GeneratorID = 1
	require.Equal(t, []Batch{{Start: 10, Size: 10}}, Batches(25, opts))
	opts.GeneratorID = 2
	opts.GeneratorCount = 3
	require.Empty(t, Batches(15, opts))
}

func TestRunEndToEnd(t *testing.T) {
	reg := tpchRegistry(t)
	w := tpchWorkload(t)
	obs := &recordingObserver{}
	g, err := New(reg, w, Options{GeneratorCount: 1, StepSize: 500, ThresholdScale: 2}, obs)
	require.NoError(t, err)
	require.Equal(t, []string{"customer", "orders"}, g.Order())

	require.NoError(t, g.Prepare(context.Background()))
	run, err := output.NewRun(t.TempDir(), output.Options{Compression: output.CodecZstd})
	require.NoError(t, err)
	res, err := g.Run(context.Background(), run)
	require.NoError(t, err)

	require.Len(t, res.Tables, 2)
	require.Equal(t, int64(1000), res.Tables[0].Rows)
	require.Equal(t, int64(2000), res.Tables[1].Rows)
	require.Equal(t, 2000, obs.rows["orders"])
	require.Equal(t, 3, obs.assigned)

	// the last batch of each column is still available
	seg, ok := g.Distribution("customer.c_mktsegment")
	require.True(t, ok)
	require.Equal(t, distribution.StateMaterialized, seg.State())
	require.InDelta(t, 0.2, constraint.Selectivity(constraint.EvaluateColumn(seg.Data(), constraint.EQ, w.Slots([]int{1}))), 1e-9)
	bal, _ := g.Distribution("customer.c_acctbal")
	require.InDelta(t, 0.3, constraint.Selectivity(constraint.EvaluateColumn(bal.Data(), constraint.LT, w.Slots([]int{2}))), 1e-9)

	require.Len(t, res.Thresholds, 1)
	require.InDelta(t, 0.5, res.Thresholds[0].Achieved, 0.05)
	require.GreaterOrEqual(t, w.Parameter(3).Scale, int32(2))

	content, err := output.ReadTable(filepath.Join(run.Dir, res.Tables[1].File))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	require.Len(t, lines, 2000)
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4)
		pk, err := strconv.ParseInt(fields[0], 10, 64)
		require.NoError(t, err)
		seen[pk] = true
		fk, err := strconv.ParseInt(fields[1], 10, 64)
		require.NoError(t, err)
		require.True(t, fk >= 1 && fk <= 1000, "fk %d", fk)
	}
	require.Len(t, seen, 2000)
}

func TestShardedGenerators(t *testing.T) {
	dir := t.TempDir()
	keys := map[string]bool{}
	for id := 0; id < 2; id++ {
		reg := tpchRegistry(t)
		g, err := New(reg, tpchWorkload(t), Options{GeneratorID: id, GeneratorCount: 2, StepSize: 300}, nil)
		require.NoError(t, err)
		require.NoError(t, g.Prepare(context.Background()))
		run, err := output.NewRun(dir, output.Options{GeneratorID: id})
		require.NoError(t, err)
		res, err := g.Run(context.Background(), run)
		require.NoError(t, err)

		content, err := output.ReadTable(filepath.Join(run.Dir, res.Tables[0].File))
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimSuffix(string(content), "\n"), "\n") {
			pk := strings.SplitN(line, ",", 2)[0]
			require.False(t, keys[pk], "duplicate key %s", pk)
			keys[pk] = true
		}
	}
	require.Len(t, keys, 1000)
}

func TestJoinOrdersTables(t *testing.T) {
	reg := tpchRegistry(t)
	w := constraint.NewWorkload()
	w.Joins = append(w.Joins, constraint.JoinRecord{Left: "customer.c_custkey", Right: "orders.o_custkey"})
	_, err := New(reg, w, Options{StepSize: 10}, nil)
	require.Error(t, err, "customer after orders after customer is a cycle")

	reg = tpchRegistry(t)
	w = constraint.NewWorkload()
	w.Joins = append(w.Joins, constraint.JoinRecord{Left: "orders.o_custkey", Right: "nation.n_nationkey"})
	_, err = New(reg, w, Options{StepSize: 10}, nil)
	require.Error(t, err)
}

func TestPrepareConflict(t *testing.T) {
	w, err := constraint.File{Constraints: []constraint.FileConstraint{
		{Table: "customer", Column: "c_mktsegment", Operator: "eq", Probability: "0.6", Parameters: []int{1}},
		{Table: "customer", Column: "c_mktsegment", Operator: "eq", Probability: "0.5", Parameters: []int{2}},
	}}.Build()
	require.NoError(t, err)
	obs := &recordingObserver{}
	g, err := New(tpchRegistry(t), w, Options{StepSize: 100}, obs)
	require.NoError(t, err)
	err = g.Prepare(context.Background())
	require.ErrorIs(t, err, distribution.ErrAllocationConflict)
	require.Equal(t, []string{"customer.c_mktsegment"}, obs.conflicts)
}

func TestSlotOwnership(t *testing.T) {
	w, err := constraint.File{Constraints: []constraint.FileConstraint{
		{Table: "customer", Column: "c_mktsegment", Operator: "eq", Probability: "0.1", Parameters: []int{1}},
		{Table: "customer", Column: "c_acctbal", Operator: "lt", Probability: "0.1", Parameters: []int{1}},
	}}.Build()
	require.NoError(t, err)
	_, err = New(tpchRegistry(t), w, Options{StepSize: 100}, nil)
	require.Error(t, err)
}

func TestGeneratorsAgreeOnParameters(t *testing.T) {
	workload := func() *constraint.Workload {
		w, err := constraint.File{Constraints: []constraint.FileConstraint{
			{Table: "customer", Column: "c_acctbal", Operator: "between", Probability: "0.4",
				Lower: &constraint.FileSide{Operator: "ge", Parameters: []int{1}},
				Upper: &constraint.FileSide{Operator: "lt", Parameters: []int{2}}},
			{Table: "orders", Expression: "o_totalprice * (1 - o_discount)", Operator: "gt", Probability: "0.3", Parameters: []int{3}},
			{Table: "customer", Expression: "c_acctbal / 100", Operator: "le", Probability: "0.6", Parameters: []int{4}},
		}}.Build()
		require.NoError(t, err)
		return w
	}

	var params []output.Params
	var thresholds [][]output.ThresholdSummary
	for id := 0; id < 2; id++ {
		w := workload()
		g, err := New(tpchRegistry(t), w, Options{GeneratorID: id, GeneratorCount: 2, StepSize: 300, ThresholdScale: 2, Seed: 11}, nil)
		require.NoError(t, err)
		require.NoError(t, g.Prepare(context.Background()))
		run, err := output.NewRun(t.TempDir(), output.Options{GeneratorID: id})
		require.NoError(t, err)
		res, err := g.Run(context.Background(), run)
		require.NoError(t, err)
		params = append(params, output.BuildParams(w.Parameters, w.Groups))
		thresholds = append(thresholds, res.Thresholds)
	}
	for id := 1; id <= 4; id++ {
		require.Contains(t, params[0], fmt.Sprintf("param/%d", id))
	}
	require.Equal(t, params[0], params[1])
	require.Equal(t, thresholds[0], thresholds[1])
}

func TestSelectivityShiftReported(t *testing.T) {
	w, err := constraint.File{Constraints: []constraint.FileConstraint{
		{Table: "customer", Column: "c_mktsegment", Operator: "eq", Probability: "0.5", Parameters: []int{1}},
		{Table: "customer", Column: "c_mktsegment", Operator: "lt", Probability: "0.3", Parameters: []int{2}},
	}}.Build()
	require.NoError(t, err)
	obs := &recordingObserver{}
	g, err := New(tpchRegistry(t), w, Options{StepSize: 500}, obs)
	require.NoError(t, err)
	require.NoError(t, g.Prepare(context.Background()))
	require.InDelta(t, 0.2, obs.shifts["customer.c_mktsegment"], 1e-9)

	run, err := output.NewRun(t.TempDir(), output.Options{})
	require.NoError(t, err)
	res, err := g.Run(context.Background(), run)
	require.NoError(t, err)
	var shift string
	for _, c := range res.Tables[0].Columns {
		if c.Name == "c_mktsegment" {
			shift = c.SelectivityShift
		}
	}
	require.Equal(t, "0.2", shift)
}
