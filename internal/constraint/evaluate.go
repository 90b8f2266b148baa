package constraint

import (
	"math"

	"mirage/internal/schema"
	"mirage/internal/util"
)

// EvaluateColumn re-checks a single-column predicate against generated data.
// Nulls never match except for IsNull.
func EvaluateColumn(data []int64, op Operator, params []*Parameter) []bool {
	out := make([]bool, len(data))
	if len(params) == 0 && op != IsNull {
		return out
	}
	var value int64
	if len(params) > 0 {
		value = params[0].Data
	}
	set := make(map[int64]struct{}, len(params))
	for _, p := range params {
		set[p.Data] = struct{}{}
	}
	match := func(v int64) bool {
		switch op {
		case EQ, LIKE:
			return v == value
		case NE, NotLike:
			return v != value
		case IN:
			_, ok := set[v]
			return ok
		case NotIn:
			_, ok := set[v]
			return !ok
		case LT:
			return v < value
		case LE:
			return v <= value
		case GT:
			return v > value
		case GE:
			return v >= value
		default:
			return false
		}
	}
	util.ParallelFor(len(data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := data[i]
			if v == schema.NullValue {
				out[i] = op == IsNull
				continue
			}
			out[i] = match(v)
		}
	})
	return out
}

// EvaluateThreshold compares expression values against a resolved threshold.
func EvaluateThreshold(values []float64, op Operator, threshold float64) []bool {
	out := make([]bool, len(values))
	util.ParallelFor(len(values), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := values[i]
			if math.IsNaN(v) {
				continue
			}
			switch op {
			case LT:
				out[i] = v < threshold
			case LE:
				out[i] = v <= threshold
			case GT:
				out[i] = v > threshold
			case GE:
				out[i] = v >= threshold
			}
		}
	})
	return out
}

// Selectivity returns the fraction of true entries.
func Selectivity(bits []bool) float64 {
	if len(bits) == 0 {
		return 0
	}
	n := 0
	for _, b := range bits {
		if b {
			n++
		}
	}
	return float64(n) / float64(len(bits))
}
