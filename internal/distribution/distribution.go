// Package distribution maps predicate selectivities onto one column's value
// domain. Constraints are accumulated as an ordered partition of cumulative
// probability, reconciled into integer bucket cardinalities, and materialized
// into per-batch column arrays.
package distribution

import (
	"fmt"
	"strings"
	"sync"

	"mirage/internal/constraint"
	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrAllocationConflict means no range can hold a requested probability.
	ErrAllocationConflict = errors.New("allocation conflict")
	// ErrIncompatibleConstraint means equality and between constraints were
	// mixed on one column.
	ErrIncompatibleConstraint = errors.New("incompatible constraint")
	// ErrIllegalState means an operation was called out of lifecycle order.
	ErrIllegalState = errors.New("illegal allocator state")
)

// divisionPrecision is the number of fractional digits kept by decimal division.
const divisionPrecision = 20

var one = decimal.NewFromInt(1)

// placementFraction maps a key uniformly onto [0, 1).
var placementFraction = func(key string) float64 {
	return float64(xxhash.Sum64String(key)>>11) / (1 << 53)
}

// State is the allocator lifecycle stage.
type State int

// Lifecycle stages, strictly in this order.
const (
	StateEmpty State = iota
	StateAccumulating
	StateFinalized
	StateReconciled
	StateMaterialized
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateFinalized:
		return "finalized"
	case StateReconciled:
		return "reconciled"
	case StateMaterialized:
		return "materialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GroupResolver maps a parameter id to its identity group.
type GroupResolver interface {
	Find(id int) (int, bool)
}

type slot struct {
	param *constraint.Parameter
	// shift is added to the boundary value: LT and GE compare against the
	// first value above the boundary.
	shift int64
}

// boundary owns the cumulative range (previous boundary, cdf].
type boundary struct {
	cdf   decimal.Decimal
	slots []slot
	top   bool
	equal bool

	value int64
	card  int64
}

func lessBoundary(a, b *boundary) bool {
	return a.cdf.LessThan(b.cdf)
}

// Distribution is the constraint allocator, reconciler and materializer of one
// column. It is not safe for concurrent use; independent columns run in
// parallel on their own instances.
type Distribution struct {
	name   string
	domain *schema.Domain
	groups GroupResolver

	tree        *btree.BTreeG[*boundary]
	groupBounds map[int]*boundary
	never       []slot
	always      []slot
	hasBetween  bool
	hasEqual    bool
	relaxed     decimal.Decimal
	shifted     decimal.Decimal
	state       State

	buckets []Bucket

	data      []int64
	floatOnce *sync.Once
	floats    []float64
}

// New returns an empty allocator for domain. The domain is updated in place
// when reconciliation grows it or relaxes its null fraction. groups may be nil.
func New(name string, domain *schema.Domain, groups GroupResolver) *Distribution {
	d := &Distribution{
		name:        name,
		domain:      domain,
		groups:      groups,
		tree:        btree.NewG[*boundary](16, lessBoundary),
		groupBounds: make(map[int]*boundary),
	}
	d.tree.ReplaceOrInsert(&boundary{cdf: one.Sub(domain.NullFraction), top: true})
	return d
}

// Name returns the column the distribution belongs to.
func (d *Distribution) Name() string {
	return d.name
}

// State returns the lifecycle stage.
func (d *Distribution) State() State {
	return d.state
}

// HasConstraints reports whether any predicate touched the partition.
func (d *Distribution) HasConstraints() bool {
	return d.tree.Len() > 1 || len(d.topBound().slots) > 0 || len(d.never)+len(d.always) > 0
}

// NullRelaxation is the total null fraction given up to fit requests.
func (d *Distribution) NullRelaxation() decimal.Decimal {
	return d.relaxed
}

// SelectivityShift is the total probability by which cuts were moved out of
// equal ranges. Every unit of it is selectivity a predicate does not get.
func (d *Distribution) SelectivityShift() decimal.Decimal {
	return d.shifted
}

// Top returns the cumulative probability of all non-null values.
func (d *Distribution) Top() decimal.Decimal {
	return d.topBound().cdf
}

// Apply registers a single-column predicate with its selectivity.
func (d *Distribution) Apply(op constraint.Operator, probability decimal.Decimal, params []*constraint.Parameter) error {
	if err := d.accumulate(); err != nil {
		return err
	}
	switch {
	case op.IsNegated():
		p := d.Top().Sub(probability)
		if p.IsNegative() {
			util.Warnf("%s: %s selectivity %s exceeds non-null mass %s", d.name, op, probability, d.Top())
			p = decimal.Zero
		}
		return d.insertEqual(p, params)
	case op.IsEquality():
		return d.insertEqual(probability, params)
	case op.IsOrdering():
		p := probability
		if op.IsGreater() {
			p = d.Top().Sub(probability)
		}
		d.insertCumulative(p, op, params)
		return nil
	default:
		return errors.Wrapf(constraint.ErrUnknownOperator, "%s: operator %s on a single column", d.name, op)
	}
}

// ApplyBetween registers lower <op> column <op> upper with a joint selectivity.
// The lower cut is placed in [0, top-probability] at a fraction derived from
// the column and parameter ids, so every generator of a workload agrees on it,
// and the upper cut probability above it.
func (d *Distribution) ApplyBetween(probability decimal.Decimal, lower, upper constraint.Side) error {
	if err := d.accumulate(); err != nil {
		return err
	}
	if d.hasEqual {
		return errors.Wrapf(ErrIncompatibleConstraint, "%s: between after equality constraints", d.name)
	}
	d.hasBetween = true
	slack := d.Top().Sub(probability)
	if slack.IsNegative() {
		util.Warnf("%s: between selectivity %s exceeds non-null mass %s", d.name, probability, d.Top())
		probability = d.Top()
		slack = decimal.Zero
	}
	key := fmt.Sprintf("%s/%v/%v", d.name, constraint.IDs(lower.Parameters), constraint.IDs(upper.Parameters))
	lo := slack.Mul(decimal.NewFromFloat(placementFraction(key))).Round(divisionPrecision)
	d.insertCumulative(lo, lower.Operator, lower.Parameters)
	d.insertCumulative(lo.Add(probability), upper.Operator, upper.Parameters)
	return nil
}

// Finalize closes the partition to further constraints.
func (d *Distribution) Finalize() error {
	if d.state > StateAccumulating {
		return errors.Wrapf(ErrIllegalState, "%s: finalize in state %s", d.name, d.state)
	}
	d.state = StateFinalized
	if util.Verbose() {
		util.Debugf("%s partition:\n%s", d.name, d.Dump())
	}
	return nil
}

func (d *Distribution) accumulate() error {
	if d.state > StateAccumulating {
		return errors.Wrapf(ErrIllegalState, "%s: constraint after %s", d.name, d.state)
	}
	d.state = StateAccumulating
	return nil
}

func shiftFor(op constraint.Operator) int64 {
	if op == constraint.LT || op == constraint.GE {
		return 1
	}
	return 0
}

// insertCumulative places a cut so that the fraction p of rows lies at or
// below the boundary value. Saturated cuts get values just outside the domain.
func (d *Distribution) insertCumulative(p decimal.Decimal, op constraint.Operator, params []*constraint.Parameter) {
	p = d.snapOutOfEqualRange(p)
	if p.Sign() <= 0 || p.GreaterThanOrEqual(one) {
		for _, param := range params {
			if p.Sign() <= 0 {
				d.never = append(d.never, slot{param: param})
			} else {
				d.always = append(d.always, slot{param: param})
			}
		}
		return
	}
	d.raiseTop(p, params)
	b := d.getOrInsert(p)
	shift := shiftFor(op)
	for _, param := range params {
		b.slots = append(b.slots, slot{param: param, shift: shift})
	}
}

// snapOutOfEqualRange moves a cut that falls strictly inside an equal-range to
// the nearer edge; an equal-range is one value and cannot be split.
func (d *Distribution) snapOutOfEqualRange(p decimal.Decimal) decimal.Decimal {
	b := d.ceiling(p)
	if b == nil || !b.equal || b.cdf.Equal(p) {
		return p
	}
	lower := d.prevCDF(b)
	snapped := b.cdf
	if p.Sub(lower).LessThan(b.cdf.Sub(p)) {
		snapped = lower
	}
	d.shifted = d.shifted.Add(snapped.Sub(p).Abs())
	util.Warnf("%s: cut %s falls inside equal range (%s, %s]; requested probability %s achieved as %s",
		d.name, p, lower, b.cdf, p, snapped)
	return snapped
}

// raiseTop lifts the top boundary when a request needs more than the non-null
// mass, trading null fraction for it.
func (d *Distribution) raiseTop(p decimal.Decimal, params []*constraint.Parameter) {
	top := d.topBound()
	if p.LessThanOrEqual(top.cdf) {
		return
	}
	top.top = false
	if len(top.slots) == 0 && !top.equal {
		d.tree.Delete(top)
	}
	d.getOrInsert(p).top = true
	surplus := p.Sub(top.cdf)
	d.relaxed = d.relaxed.Add(surplus)
	util.Warnf("%s: parameters %v request cumulative probability %s beyond the non-null mass %s; null fraction reduced by %s",
		d.name, constraint.IDs(params), p, top.cdf, surplus)
}

func (d *Distribution) insertEqual(p decimal.Decimal, params []*constraint.Parameter) error {
	if d.hasBetween {
		return errors.Wrapf(ErrIncompatibleConstraint, "%s: equality constraint on a column with between", d.name)
	}
	if err := d.placeEqual(p, params); err != nil {
		return err
	}
	d.hasEqual = true
	return nil
}

// placeEqual attaches params to existing group ranges first and only then
// carves the residual probability out of the smallest free range.
func (d *Distribution) placeEqual(p decimal.Decimal, params []*constraint.Parameter) error {
	pending := append([]*constraint.Parameter(nil), params...)
	if p.Sign() > 0 && allCanMerge(pending) {
		p, pending = d.reuse(p, pending)
	}
	if p.Sign() <= 0 {
		for _, param := range pending {
			d.never = append(d.never, slot{param: param})
		}
		return nil
	}
	if len(pending) == 0 {
		return nil
	}
	d.raiseTop(p, pending)
	target, rng := d.smallestFit(p)
	if target == nil {
		return errors.Wrapf(ErrAllocationConflict, "%s: no range can hold probability %s for parameters %v",
			d.name, p, constraint.IDs(pending))
	}
	for _, param := range pending {
		param.IsEqualPredicate = true
	}
	if rng.Equal(p) {
		target.equal = true
		for _, param := range pending {
			target.slots = append(target.slots, slot{param: param})
		}
		d.registerGroups(target)
		return nil
	}
	if len(pending) > 1 && anyCanMerge(pending) {
		n := int64(len(pending))
		each := p.DivRound(decimal.NewFromInt(n), divisionPrecision)
		remaining := rng
		for i, param := range pending {
			share := each
			if int64(i) == n-1 {
				share = p.Sub(each.Mul(decimal.NewFromInt(n - 1)))
			}
			remaining = remaining.Sub(share)
			d.insertEqualRange(target.cdf.Sub(remaining), []*constraint.Parameter{param})
		}
		return nil
	}
	d.insertEqualRange(target.cdf.Sub(rng.Sub(p)), pending)
	return nil
}

func (d *Distribution) insertEqualRange(cdf decimal.Decimal, params []*constraint.Parameter) {
	b := d.getOrInsert(cdf)
	b.equal = true
	for _, param := range params {
		b.slots = append(b.slots, slot{param: param})
	}
	d.registerGroups(b)
}

// reuse attaches slots whose identity group already owns an equal-range to
// that range and returns the probability still to place.
func (d *Distribution) reuse(p decimal.Decimal, pending []*constraint.Parameter) (decimal.Decimal, []*constraint.Parameter) {
	if d.groups == nil {
		return p, pending
	}
	kept := make([]*constraint.Parameter, 0, len(pending))
	for _, param := range pending {
		if p.Sign() <= 0 {
			kept = append(kept, param)
			continue
		}
		g, ok := d.groups.Find(param.ID)
		if !ok {
			kept = append(kept, param)
			continue
		}
		b, ok := d.groupBounds[g]
		if !ok {
			kept = append(kept, param)
			continue
		}
		rng := d.rangeOf(b)
		param.IsEqualPredicate = true
		b.slots = append(b.slots, slot{param: param})
		if rng.GreaterThan(p) {
			util.Warnf("%s: parameter %d reuses group %d range %s for a request of %s",
				d.name, param.ID, g, rng, p)
			p = decimal.Zero
			continue
		}
		p = p.Sub(rng)
	}
	return p, kept
}

func (d *Distribution) registerGroups(b *boundary) {
	if d.groups == nil {
		return
	}
	for _, s := range b.slots {
		g, ok := d.groups.Find(s.param.ID)
		if !ok {
			continue
		}
		if _, taken := d.groupBounds[g]; !taken {
			d.groupBounds[g] = b
		}
	}
}

// smallestFit returns the smallest non-equal range that can hold p.
func (d *Distribution) smallestFit(p decimal.Decimal) (*boundary, decimal.Decimal) {
	var (
		best    *boundary
		bestRng decimal.Decimal
		prev    = decimal.Zero
	)
	d.tree.Ascend(func(b *boundary) bool {
		rng := b.cdf.Sub(prev)
		prev = b.cdf
		if b.equal || rng.LessThan(p) {
			return true
		}
		if best == nil || rng.LessThan(bestRng) {
			best, bestRng = b, rng
		}
		return true
	})
	return best, bestRng
}

func (d *Distribution) topBound() *boundary {
	top, _ := d.tree.Max()
	return top
}

func (d *Distribution) getOrInsert(cdf decimal.Decimal) *boundary {
	if b, ok := d.tree.Get(&boundary{cdf: cdf}); ok {
		return b
	}
	b := &boundary{cdf: cdf}
	d.tree.ReplaceOrInsert(b)
	return b
}

func (d *Distribution) ceiling(cdf decimal.Decimal) *boundary {
	var out *boundary
	d.tree.AscendGreaterOrEqual(&boundary{cdf: cdf}, func(b *boundary) bool {
		out = b
		return false
	})
	return out
}

func (d *Distribution) prevCDF(b *boundary) decimal.Decimal {
	prev := decimal.Zero
	d.tree.DescendLessOrEqual(b, func(item *boundary) bool {
		if item.cdf.Equal(b.cdf) {
			return true
		}
		prev = item.cdf
		return false
	})
	return prev
}

func (d *Distribution) rangeOf(b *boundary) decimal.Decimal {
	return b.cdf.Sub(d.prevCDF(b))
}

func allCanMerge(params []*constraint.Parameter) bool {
	for _, p := range params {
		if !p.CanMerge {
			return false
		}
	}
	return true
}

func anyCanMerge(params []*constraint.Parameter) bool {
	for _, p := range params {
		if p.CanMerge {
			return true
		}
	}
	return false
}

// Dump renders the partition, one boundary per line.
func (d *Distribution) Dump() string {
	var b strings.Builder
	prev := decimal.Zero
	d.tree.Ascend(func(item *boundary) bool {
		ids := make([]int, 0, len(item.slots))
		for _, s := range item.slots {
			ids = append(ids, s.param.ID)
		}
		kind := "range"
		if item.equal {
			kind = "equal"
		}
		if item.top {
			kind += ",top"
		}
		fmt.Fprintf(&b, "(%s, %s] %s size=%s params=%v", prev, item.cdf, kind, item.cdf.Sub(prev), ids)
		if d.state >= StateReconciled {
			fmt.Fprintf(&b, " value=%d card=%d", item.value, item.card)
		}
		b.WriteByte('\n')
		prev = item.cdf
		return true
	})
	if len(d.never) > 0 || len(d.always) > 0 {
		fmt.Fprintf(&b, "never=%v always=%v\n", slotIDs(d.never), slotIDs(d.always))
	}
	return b.String()
}

func slotIDs(slots []slot) []int {
	out := make([]int, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.param.ID)
	}
	return out
}
