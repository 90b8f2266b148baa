package constraint

import (
	"mirage/internal/arith"
	"mirage/internal/schema"

	"github.com/shopspring/decimal"
)

// Side is one half of a between predicate.
type Side struct {
	Operator   Operator
	Parameters []*Parameter
}

// Record is a single-column predicate with its observed selectivity.
type Record struct {
	Table       string
	Column      string
	Operator    Operator
	Probability decimal.Decimal
	Parameters  []*Parameter
	// Lower and Upper are set for BETWEEN only.
	Lower *Side
	Upper *Side
}

// ColumnRef returns the table-qualified column.
func (r Record) ColumnRef() string {
	return schema.ColumnRef(r.Table, r.Column)
}

// JoinRecord links parameter slots of two tables' join columns. The slots end
// up in one identity group and the left table is generated after the right.
type JoinRecord struct {
	Left         string
	Right        string
	ParameterIDs []int
}

// MultiColumn is a predicate over an arithmetic expression of one table's
// columns, e.g. a*b < ?.
type MultiColumn struct {
	Table       string
	Text        string
	Expr        arith.Node
	Operator    Operator
	Probability decimal.Decimal
	Parameters  []*Parameter
	// Threshold is the last resolved cut point.
	Threshold float64
}

// Workload is everything mined for one generation run.
type Workload struct {
	Records      []Record
	MultiColumns []*MultiColumn
	Joins        []JoinRecord
	Groups       *Groups
	Parameters   map[int]*Parameter
}

// NewWorkload returns an empty workload.
func NewWorkload() *Workload {
	return &Workload{Groups: NewGroups(), Parameters: make(map[int]*Parameter)}
}

// Parameter returns the slot with id, creating it on first use.
func (w *Workload) Parameter(id int) *Parameter {
	if p, ok := w.Parameters[id]; ok {
		return p
	}
	p := &Parameter{ID: id}
	w.Parameters[id] = p
	return p
}

// Slots resolves ids into parameter slots.
func (w *Workload) Slots(ids []int) []*Parameter {
	out := make([]*Parameter, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.Parameter(id))
	}
	return out
}

// RecordsFor returns the single-column records on table.column in workload order.
func (w *Workload) RecordsFor(table, column string) []Record {
	var out []Record
	for _, r := range w.Records {
		if r.Table == table && r.Column == column {
			out = append(out, r)
		}
	}
	return out
}

// MultiColumnsFor returns the multi-column predicates of table.
func (w *Workload) MultiColumnsFor(table string) []*MultiColumn {
	var out []*MultiColumn
	for _, m := range w.MultiColumns {
		if m.Table == table {
			out = append(out, m)
		}
	}
	return out
}
