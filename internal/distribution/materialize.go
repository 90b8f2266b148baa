package distribution

import (
	"math"
	"math/rand/v2"
	"sync"

	"mirage/internal/schema"
	"mirage/internal/util"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var randInt64N = rand.Int64N

type piece struct {
	lo, hi   int
	low      int64
	high     int64
	constant bool
}

// Materialize generates one batch of the column: each bucket receives its
// rounded share of rows, equal ranges repeat their value, other ranges draw
// uniformly from their values, the remainder is null and the result is
// shuffled. It can be called once per batch after Reconcile.
func (d *Distribution) Materialize(batch int) ([]int64, error) {
	return d.materialize(batch, nil)
}

// MaterializeWith is Materialize drawing every value and the shuffle from rng,
// so equal seeds give equal batches.
func (d *Distribution) MaterializeWith(batch int, rng *rand.Rand) ([]int64, error) {
	return d.materialize(batch, rng)
}

func (d *Distribution) materialize(batch int, rng *rand.Rand) ([]int64, error) {
	if d.state < StateReconciled {
		return nil, errors.Wrapf(ErrIllegalState, "%s: materialize in state %s", d.name, d.state)
	}
	if batch < 0 {
		return nil, errors.Errorf("%s: negative batch size %d", d.name, batch)
	}

	out := make([]int64, batch)
	n := decimal.NewFromInt(int64(batch))
	pieces := make([]piece, 0, len(d.buckets))
	offset := 0
	prevValue := d.domain.Min - 1
	for _, b := range d.buckets {
		end := int(n.Mul(b.Boundary).Round(0).IntPart())
		if end > batch {
			end = batch
		}
		if end > offset {
			pieces = append(pieces, piece{
				lo:       offset,
				hi:       end,
				low:      prevValue + 1,
				high:     b.Value,
				constant: b.IsEqualRange || b.Cardinality <= 1,
			})
			offset = end
		}
		prevValue = b.Value
	}
	for i := offset; i < batch; i++ {
		out[i] = schema.NullValue
	}
	swap := func(i, j int) {
		out[i], out[j] = out[j], out[i]
	}
	if rng != nil {
		for _, p := range pieces {
			fillSeq(out[p.lo:p.hi], p, rng.Int64N)
		}
		rng.Shuffle(len(out), swap)
	} else {
		for _, p := range pieces {
			fill(out[p.lo:p.hi], p)
		}
		rand.Shuffle(len(out), swap)
	}

	d.data = out
	d.floats = nil
	d.floatOnce = new(sync.Once)
	d.state = StateMaterialized
	return out, nil
}

func fill(dst []int64, p piece) {
	util.ParallelFor(len(dst), func(lo, hi int) {
		fillSeq(dst[lo:hi], p, randInt64N)
	})
}

func fillSeq(dst []int64, p piece, draw func(int64) int64) {
	if p.constant {
		for i := range dst {
			dst[i] = p.high
		}
		return
	}
	span := p.high - p.low + 1
	for i := range dst {
		dst[i] = p.low + draw(span)
	}
}

// Data returns the last materialized batch.
func (d *Distribution) Data() []int64 {
	return d.data
}

// Float64s returns the last batch as scaled floats with NaN for nulls. The
// view is built on first use and cached until the next batch.
func (d *Distribution) Float64s() []float64 {
	if d.floatOnce == nil {
		return nil
	}
	d.floatOnce.Do(func() {
		scale := d.domain.ScaleFactor()
		data := d.data
		floats := make([]float64, len(data))
		util.ParallelFor(len(data), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if data[i] == schema.NullValue {
					floats[i] = math.NaN()
					continue
				}
				floats[i] = float64(data[i]) / scale
			}
		})
		d.floats = floats
	})
	return d.floats
}
