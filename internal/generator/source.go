package generator

import (
	"math"

	"mirage/internal/schema"
)

// tableSource exposes one batch of a table to the expression evaluator.
// Attribute columns use their distribution's cached float view; key columns
// are converted on demand.
type tableSource struct {
	gen   *Generator
	table *schema.Table
	data  [][]int64
}

func (s *tableSource) Float64s(column string) ([]float64, bool) {
	tableName, name := schema.SplitColumnRef(column)
	if tableName != "" && tableName != s.table.Name {
		return nil, false
	}
	for i, col := range s.table.Columns {
		if col.Name != name {
			continue
		}
		if col.Kind == schema.KindAttribute {
			if d, ok := s.gen.dists[col.Canonical()]; ok {
				return d.Float64s(), true
			}
		}
		return toFloats(s.data[i]), true
	}
	return nil, false
}

func toFloats(values []int64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == schema.NullValue {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(v)
	}
	return out
}
