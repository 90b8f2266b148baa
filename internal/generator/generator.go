// Package generator runs a generation job: it builds one distribution per
// attribute column, applies the workload's constraints, reconciles the
// domains and then materializes every table batch by batch.
package generator

import (
	"context"
	"sort"
	"strings"
	"time"

	"mirage/internal/constraint"
	"mirage/internal/distribution"
	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/pkg/errors"
)

// Options controls batching and sharding. Seed fixes the sample that
// multi-column thresholds are resolved on; generators of one workload must
// share it.
type Options struct {
	GeneratorID    int
	GeneratorCount int
	StepSize       int
	ThresholdScale int32
	Seed           uint64
}

// Observer receives run telemetry.
type Observer interface {
	ObserveBatch(table string, rows int, elapsed time.Duration)
	NullRelaxed(column string, amount float64)
	DomainResized(column string, delta int64)
	Conflict(column string)
	ParametersAssigned(n int)
	ThresholdError(table, expression string, err float64)
	SelectivityShifted(column string, amount float64)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(string, int, time.Duration) {}
func (nopObserver) NullRelaxed(string, float64)             {}
func (nopObserver) DomainResized(string, int64)             {}
func (nopObserver) Conflict(string)                         {}
func (nopObserver) ParametersAssigned(int)                  {}
func (nopObserver) ThresholdError(string, string, float64)  {}
func (nopObserver) SelectivityShifted(string, float64)      {}

// Generator owns the per-column distributions of one run.
type Generator struct {
	reg      *schema.Registry
	workload *constraint.Workload
	opts     Options
	obs      Observer

	order   []string
	dists   map[string]*distribution.Distribution
	resizes map[string]int64
}

// New validates the workload against the registry and fixes the table order.
// Join records make the left table depend on the right one.
func New(reg *schema.Registry, workload *constraint.Workload, opts Options, obs Observer) (*Generator, error) {
	if opts.GeneratorCount <= 0 {
		opts.GeneratorCount = 1
	}
	if opts.GeneratorID < 0 || opts.GeneratorID >= opts.GeneratorCount {
		return nil, errors.Errorf("generator id %d outside [0, %d)", opts.GeneratorID, opts.GeneratorCount)
	}
	if opts.StepSize <= 0 {
		return nil, errors.Errorf("step size %d must be positive", opts.StepSize)
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if workload == nil {
		workload = constraint.NewWorkload()
	}
	for _, j := range workload.Joins {
		left, _ := schema.SplitColumnRef(j.Left)
		right, _ := schema.SplitColumnRef(j.Right)
		for _, name := range []string{left, right} {
			if _, ok := reg.Table(name); !ok {
				return nil, errors.Errorf("join %s = %s references unknown table %q", j.Left, j.Right, name)
			}
		}
		reg.AddDependency(left, right)
	}
	order, err := reg.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, m := range workload.MultiColumns {
		if _, ok := reg.Table(m.Table); !ok {
			return nil, errors.Errorf("multi-column predicate %s references unknown table %q", m.Text, m.Table)
		}
	}
	if err := checkSlotOwnership(workload); err != nil {
		return nil, err
	}
	return &Generator{
		reg:      reg,
		workload: workload,
		opts:     opts,
		obs:      obs,
		order:    order,
		dists:    make(map[string]*distribution.Distribution),
		resizes:  make(map[string]int64),
	}, nil
}

// checkSlotOwnership rejects a parameter id used by predicates on two
// different columns; each slot is reconciled by exactly one distribution.
func checkSlotOwnership(w *constraint.Workload) error {
	owner := make(map[int]string)
	claim := func(ref string, params []*constraint.Parameter) error {
		for _, p := range params {
			if prev, ok := owner[p.ID]; ok && prev != ref {
				return errors.Errorf("parameter %d is used on both %s and %s", p.ID, prev, ref)
			}
			owner[p.ID] = ref
		}
		return nil
	}
	for _, r := range w.Records {
		ref := r.ColumnRef()
		if err := claim(ref, r.Parameters); err != nil {
			return err
		}
		for _, side := range []*constraint.Side{r.Lower, r.Upper} {
			if side == nil {
				continue
			}
			if err := claim(ref, side.Parameters); err != nil {
				return err
			}
		}
	}
	for _, m := range w.MultiColumns {
		if err := claim(m.Table+":"+m.Text, m.Parameters); err != nil {
			return err
		}
	}
	return nil
}

// Order returns the table generation order.
func (g *Generator) Order() []string {
	return append([]string(nil), g.order...)
}

// Prepare applies every single-column record in workload order, then
// finalizes and reconciles all distributions in parallel.
func (g *Generator) Prepare(ctx context.Context) error {
	for _, name := range g.order {
		t, _ := g.reg.Table(name)
		for _, col := range t.Attributes() {
			g.dists[col.Canonical()] = distribution.New(col.Canonical(), &col.Domain, g.workload.Groups)
		}
	}
	for i, rec := range g.workload.Records {
		if err := g.apply(rec); err != nil {
			return errors.Wrapf(err, "constraint #%d on %s", i, rec.ColumnRef())
		}
	}

	names := make([]string, 0, len(g.dists))
	for name := range g.dists {
		names = append(names, name)
	}
	sort.Strings(names)
	deltas := make([]int64, len(names))
	err := util.ParallelEach(ctx, len(names), func(_ context.Context, i int) error {
		d := g.dists[names[i]]
		if err := d.Finalize(); err != nil {
			return err
		}
		delta, err := d.Reconcile()
		deltas[i] = delta
		return err
	})
	if err != nil {
		return err
	}
	for i, name := range names {
		d := g.dists[name]
		if deltas[i] != 0 {
			g.resizes[name] = deltas[i]
			g.obs.DomainResized(name, deltas[i])
		}
		if relaxed := d.NullRelaxation(); relaxed.Sign() > 0 {
			g.obs.NullRelaxed(name, relaxed.InexactFloat64())
		}
		if shifted := d.SelectivityShift(); shifted.Sign() > 0 {
			g.obs.SelectivityShifted(name, shifted.InexactFloat64())
		}
	}
	util.Infof("prepared %d column distributions over %d tables", len(names), len(g.order))
	return nil
}

func (g *Generator) apply(rec constraint.Record) error {
	col, err := g.reg.Column(rec.ColumnRef())
	if err != nil {
		return err
	}
	if col.Kind != schema.KindAttribute {
		util.Warnf("skipping %s predicate on key column %s", rec.Operator, col.Canonical())
		return nil
	}
	d := g.dists[col.Canonical()]
	if rec.Operator == constraint.BETWEEN {
		err = d.ApplyBetween(rec.Probability, *rec.Lower, *rec.Upper)
	} else {
		err = d.Apply(rec.Operator, rec.Probability, rec.Parameters)
	}
	if errors.Is(err, distribution.ErrAllocationConflict) || errors.Is(err, distribution.ErrIncompatibleConstraint) {
		g.obs.Conflict(col.Canonical())
	}
	return err
}

// Distribution returns the distribution of a table-qualified column.
func (g *Generator) Distribution(ref string) (*distribution.Distribution, bool) {
	d, ok := g.dists[ref]
	return d, ok
}

// Partitions renders every column partition in table order.
func (g *Generator) Partitions() string {
	var b strings.Builder
	for _, name := range g.order {
		t, _ := g.reg.Table(name)
		for _, col := range t.Attributes() {
			d, ok := g.dists[col.Canonical()]
			if !ok {
				continue
			}
			b.WriteString(col.Canonical())
			b.WriteString(" [" + d.State().String() + "]\n")
			b.WriteString(d.Dump())
		}
	}
	return b.String()
}

// AssignedParameters counts slots with a literal.
func (g *Generator) AssignedParameters() (assigned int, missing []int) {
	for id, p := range g.workload.Parameters {
		if p.Assigned {
			assigned++
		} else {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)
	return assigned, missing
}
