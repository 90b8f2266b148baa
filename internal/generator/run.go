package generator

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"mirage/internal/arith"
	"mirage/internal/constraint"
	"mirage/internal/output"
	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Batch is a row range [Start, Start+Size) of one table.
type Batch struct {
	Start int64
	Size  int
}

// Batches lists this generator's share of a table. Generators take turns
// over consecutive step-sized slices: generator i owns slices i, i+n, i+2n...
func Batches(rows int64, opts Options) []Batch {
	step := int64(opts.StepSize)
	skip := step * int64(opts.GeneratorCount-1)
	var out []Batch
	for start := step * int64(opts.GeneratorID); start < rows; {
		end := min(start+step, rows)
		out = append(out, Batch{Start: start, Size: int(end - start)})
		start = end + skip
	}
	return out
}

// Result summarizes a finished run.
type Result struct {
	Tables     []output.TableSummary
	Thresholds []output.ThresholdSummary
}

// Run materializes every table in dependency order and writes it to run.
// Multi-column thresholds are resolved on a seeded sample of each table's
// first step, identical on every generator of the workload.
func (g *Generator) Run(ctx context.Context, run *output.Run) (Result, error) {
	var res Result
	for _, name := range g.order {
		t, _ := g.reg.Table(name)
		summary, thresholds, err := g.runTable(ctx, run, t)
		if err != nil {
			return res, errors.Wrapf(err, "table %s", name)
		}
		res.Tables = append(res.Tables, summary)
		res.Thresholds = append(res.Thresholds, thresholds...)
	}
	assigned, missing := g.AssignedParameters()
	g.obs.ParametersAssigned(assigned)
	if len(missing) > 0 {
		util.Warnf("parameters without a value: %v", missing)
	}
	return res, nil
}

func (g *Generator) runTable(ctx context.Context, run *output.Run, t *schema.Table) (output.TableSummary, []output.ThresholdSummary, error) {
	summary := output.TableSummary{Name: t.Name, File: run.TableFileName(t.Name)}
	w, err := run.OpenTable(t.Name, t.Columns)
	if err != nil {
		return summary, nil, err
	}
	closed := false
	defer func() {
		if !closed {
			util.CloseWithErr(w, "table shard "+t.Name)
		}
	}()

	multis := g.workload.MultiColumnsFor(t.Name)
	var thresholds []output.ThresholdSummary
	if len(multis) > 0 && t.Rows > 0 {
		sample := Batch{Start: 0, Size: int(min(t.Rows, int64(g.opts.StepSize)))}
		data, err := g.materialize(ctx, t, sample, true)
		if err != nil {
			return summary, nil, err
		}
		if thresholds, err = g.resolve(t, data, sample.Size, multis); err != nil {
			return summary, nil, err
		}
	}
	batches := Batches(t.Rows, g.opts)
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return summary, nil, err
		}
		started := time.Now()
		data, err := g.materialize(ctx, t, b, false)
		if err != nil {
			return summary, nil, err
		}
		if err := w.WriteBatch(data, b.Size); err != nil {
			return summary, nil, err
		}
		g.obs.ObserveBatch(t.Name, b.Size, time.Since(started))
	}
	closed = true
	if err := w.Close(); err != nil {
		return summary, nil, err
	}
	summary.Rows = w.Rows()
	summary.Columns = g.columnSummaries(t)
	util.Infof("table %s: %d rows in %d batches -> %s", t.Name, summary.Rows, len(batches), summary.File)
	return summary, thresholds, nil
}

// materialize produces one column array per table column for a batch.
// Columns are independent and generated in parallel. A seeded batch draws each
// column from its own generator keyed by the run seed and the column name.
func (g *Generator) materialize(ctx context.Context, t *schema.Table, b Batch, seeded bool) ([][]int64, error) {
	data := make([][]int64, len(t.Columns))
	err := util.ParallelEach(ctx, len(t.Columns), func(_ context.Context, i int) error {
		col := t.Columns[i]
		var rng *rand.Rand
		if seeded {
			rng = rand.New(rand.NewPCG(g.opts.Seed, xxhash.Sum64String(col.Canonical())))
		}
		switch col.Kind {
		case schema.KindPrimaryKey:
			data[i] = primaryKeys(b)
		case schema.KindForeignKey:
			ref, ok := g.reg.Table(col.RefTable)
			if !ok {
				return errors.Errorf("foreign key %s references unknown table %s", col.Canonical(), col.RefTable)
			}
			data[i] = foreignKeys(b.Size, ref.Rows, rng)
		default:
			d, ok := g.dists[col.Canonical()]
			if !ok {
				return errors.Errorf("no distribution for %s", col.Canonical())
			}
			var values []int64
			var err error
			if rng != nil {
				values, err = d.MaterializeWith(b.Size, rng)
			} else {
				values, err = d.Materialize(b.Size)
			}
			if err != nil {
				return err
			}
			data[i] = values
		}
		return nil
	})
	return data, err
}

func primaryKeys(b Batch) []int64 {
	out := make([]int64, b.Size)
	util.ParallelFor(b.Size, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = b.Start + int64(i) + 1
		}
	})
	return out
}

func foreignKeys(n int, refRows int64, rng *rand.Rand) []int64 {
	out := make([]int64, n)
	if refRows <= 0 {
		for i := range out {
			out[i] = schema.NullValue
		}
		return out
	}
	if rng != nil {
		for i := range out {
			out[i] = rng.Int64N(refRows) + 1
		}
		return out
	}
	util.ParallelFor(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = rand.Int64N(refRows) + 1
		}
	})
	return out
}

func (g *Generator) resolve(t *schema.Table, data [][]int64, rows int, multis []*constraint.MultiColumn) ([]output.ThresholdSummary, error) {
	src := &tableSource{gen: g, table: t, data: data}
	out := make([]output.ThresholdSummary, 0, len(multis))
	for _, m := range multis {
		threshold, err := m.Resolve(src, rows, g.opts.ThresholdScale)
		if err != nil {
			return nil, err
		}
		values, err := arith.Evaluate(m.Expr, src, rows)
		if err != nil {
			return nil, err
		}
		achieved := constraint.Selectivity(constraint.EvaluateThreshold(values, m.Operator, threshold))
		target := m.Probability.InexactFloat64()
		g.obs.ThresholdError(t.Name, m.Expr.String(), math.Abs(achieved-target))
		util.Debugf("%s: %s %s %g (target %g, achieved %g)", t.Name, m.Expr, m.Operator, threshold, target, achieved)
		out = append(out, output.ThresholdSummary{
			Table:      t.Name,
			Expression: m.Expr.String(),
			Operator:   m.Operator.String(),
			Target:     m.Probability.String(),
			Threshold:  threshold,
			Achieved:   achieved,
		})
	}
	return out, nil
}

func (g *Generator) columnSummaries(t *schema.Table) []output.ColumnSummary {
	var out []output.ColumnSummary
	for _, col := range t.Attributes() {
		d, ok := g.dists[col.Canonical()]
		if !ok {
			continue
		}
		s := output.ColumnSummary{
			Name:         col.Name,
			Min:          col.Domain.Min,
			Size:         col.Domain.Size,
			NullFraction: col.Domain.NullFraction.String(),
			DomainResize: g.resizes[col.Canonical()],
			Buckets:      len(d.Buckets()),
		}
		if relaxed := d.NullRelaxation(); relaxed.Sign() > 0 {
			s.NullRelaxation = relaxed.String()
		}
		if shifted := d.SelectivityShift(); shifted.Sign() > 0 {
			s.SelectivityShift = shifted.String()
		}
		out = append(out, s)
	}
	return out
}
