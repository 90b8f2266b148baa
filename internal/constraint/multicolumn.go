package constraint

import (
	"math"
	"sort"

	"mirage/internal/arith"
	"mirage/internal/util"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// maxThresholdScale bounds the fractional digits a threshold may grow to.
const maxThresholdScale = 15

// Resolve evaluates the expression over the generated rows and assigns every
// parameter the cut point that leaves floor(p·rows) rows on the non-matching
// side of a greater-than and on the matching side of a less-than. The column
// arrays are not modified. Rows whose expression is null (NaN) never match,
// so they are ranked on the non-matching side.
//
// The cut is stored with at least scale fractional digits, and with more when
// scale is too coarse to separate the neighbouring ranks.
func (m *MultiColumn) Resolve(src arith.ColumnSource, rows int, scale int32) (float64, error) {
	if !m.Operator.IsOrdering() {
		return 0, errors.Wrapf(ErrUnknownOperator, "multi-column predicate %s uses %s", m.Text, m.Operator)
	}
	values, err := arith.Evaluate(m.Expr, src, rows)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve %s on %s", m.Expr, m.Table)
	}
	valid := values[:0]
	for _, v := range values {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	nulls := rows - len(valid)
	sort.Float64s(valid)

	p := m.Probability
	if m.Operator.IsGreater() {
		p = decimal.NewFromInt(1).Sub(p)
	}
	// k valid rows fall below the cut
	k := int(p.Mul(decimal.NewFromInt(int64(rows))).Floor().IntPart())
	if m.Operator.IsGreater() {
		k -= nulls
	}
	k = min(max(k, 0), len(valid))

	var (
		data     int64
		resolved = scale
	)
	if len(valid) == 0 {
		util.Warnf("multi-column predicate %s on %s has no non-null rows", m.Expr, m.Table)
	} else {
		strict := m.Operator == LT || m.Operator == GE
		data, resolved = cutPoint(valid, k, strict, scale)
		if resolved > scale {
			util.Infof("%s: threshold for %s needs %d fractional digits", m.Table, m.Expr, resolved)
		}
	}
	for _, param := range m.Parameters {
		param.SetData(data)
		param.Scale = resolved
	}
	m.Threshold = float64(data) / math.Pow10(int(resolved))
	return m.Threshold, nil
}

// cutPoint encodes a threshold t with exactly k of the sorted values below it.
// For strict comparisons (LT, GE) "below" means v < t and t lies in
// (valid[k-1], valid[k]]; otherwise it means v <= t and t lies in
// [valid[k-1], valid[k]). The anchor is the inclusive end of that interval;
// it is rounded towards the open end one digit at a time until the encoded
// value stays inside. Ties across the cut make the interval empty, in which
// case the scale closest to k wins.
func cutPoint(valid []float64, k int, strict bool, scale int32) (int64, int32) {
	n := len(valid)
	unit := math.Pow10(-int(scale))
	var anchor float64
	switch {
	case strict && k < n:
		anchor = valid[k]
	case strict:
		anchor = valid[n-1] + unit
	case k > 0:
		anchor = valid[k-1]
	default:
		anchor = valid[0] - unit
	}

	var (
		bestData  int64
		bestScale = scale
		bestMiss  = -1
	)
	for s := scale; s <= max(scale, maxThresholdScale); s++ {
		f := math.Pow10(int(s))
		x := anchor * f
		if s > scale && math.Abs(x) >= 1<<53 {
			break
		}
		var data int64
		if strict {
			data = int64(math.Floor(x))
		} else {
			data = int64(math.Ceil(x))
		}
		miss := countBelow(valid, float64(data)/f, strict) - k
		if miss < 0 {
			miss = -miss
		}
		if bestMiss < 0 || miss < bestMiss {
			bestData, bestScale, bestMiss = data, s, miss
		}
		if miss == 0 {
			break
		}
	}
	return bestData, bestScale
}

func countBelow(valid []float64, t float64, strict bool) int {
	if strict {
		return sort.SearchFloat64s(valid, t)
	}
	return sort.Search(len(valid), func(i int) bool { return valid[i] > t })
}
