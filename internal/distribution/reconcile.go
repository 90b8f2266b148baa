package distribution

import (
	"mirage/internal/util"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Bucket is one reconciled range of the partition.
type Bucket struct {
	// Boundary is the cumulative probability at the top of the range.
	Boundary decimal.Decimal
	// Probability is the range's share of rows.
	Probability decimal.Decimal
	// Cardinality is the number of distinct values the range owns.
	Cardinality int64
	// Value is the largest value of the range; equal ranges generate only it.
	Value        int64
	IsEqualRange bool
}

// Reconcile turns the partition into integer bucket cardinalities that sum to
// the domain size and assigns every parameter its value. Each boundary owns
// one anchor value; the rest of the domain is shared by the non-equal ranges
// in proportion to their probability. It returns the domain size change that
// was needed, which is already applied to the domain.
func (d *Distribution) Reconcile() (int64, error) {
	if d.state != StateFinalized && d.state != StateReconciled {
		return 0, errors.Wrapf(ErrIllegalState, "%s: reconcile in state %s", d.name, d.state)
	}

	var entries []*boundary
	remainRange := decimal.Zero
	prev := decimal.Zero
	d.tree.Ascend(func(b *boundary) bool {
		entries = append(entries, b)
		if !b.equal {
			remainRange = remainRange.Add(b.cdf.Sub(prev))
		}
		prev = b.cdf
		return true
	})

	remainCard := d.domain.Size - int64(len(entries))
	var delta int64
	switch {
	case remainRange.Sign() > 0 && remainCard < 0:
		delta = -remainCard
		remainCard = 0
	case remainRange.Sign() <= 0 && remainCard != 0:
		delta = -remainCard
		remainCard = 0
	}
	if delta != 0 {
		d.domain.Grow(delta)
		util.Warnf("%s: domain size adjusted by %d to %d to fit %d boundaries", d.name, delta, d.domain.Size, len(entries))
	}
	if d.relaxed.Sign() > 0 {
		d.domain.NullFraction = one.Sub(d.Top())
	}

	buckets := make([]Bucket, 0, len(entries))
	remainCardDec := decimal.NewFromInt(remainCard)
	cumRange := decimal.Zero
	var assigned int64
	value := d.domain.Min - 1
	prev = decimal.Zero
	for _, b := range entries {
		rng := b.cdf.Sub(prev)
		prev = b.cdf
		card := int64(1)
		if !b.equal && remainRange.Sign() > 0 {
			cumRange = cumRange.Add(rng)
			target := remainCardDec.Mul(cumRange).DivRound(remainRange, divisionPrecision).Round(0).IntPart()
			card += target - assigned
			assigned = target
		}
		value += card
		b.value = value
		b.card = card
		for _, s := range b.slots {
			s.param.SetData(value + s.shift)
		}
		buckets = append(buckets, Bucket{
			Boundary:     b.cdf,
			Probability:  rng,
			Cardinality:  card,
			Value:        value,
			IsEqualRange: b.equal,
		})
	}
	for _, s := range d.never {
		s.param.SetData(d.domain.NeverValue())
	}
	for _, s := range d.always {
		s.param.SetData(d.domain.AlwaysValue())
	}

	d.buckets = buckets
	d.state = StateReconciled
	return delta, nil
}

// Buckets returns the reconciled buckets in cumulative order.
func (d *Distribution) Buckets() []Bucket {
	return append([]Bucket(nil), d.buckets...)
}
