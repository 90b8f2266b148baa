// Package schema describes tables, columns and the integer value domain each
// column is generated in.
package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// NullValue marks a null cell in a generated column array.
const NullValue int64 = math.MinInt64

// ColumnType enumerates the value encodings a column can be rendered with.
type ColumnType int

// Column encodings.
const (
	TypeInteger ColumnType = iota
	TypeDecimal
	TypeVarchar
	TypeDate
	TypeDatetime
)

// ParseColumnType maps a SQL-ish type name onto an encoding.
func ParseColumnType(name string) (ColumnType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx := strings.IndexByte(name, '('); idx > 0 {
		name = name[:idx]
	}
	switch name {
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint":
		return TypeInteger, nil
	case "decimal", "numeric", "float", "double", "real":
		return TypeDecimal, nil
	case "varchar", "char", "text", "string":
		return TypeVarchar, nil
	case "date":
		return TypeDate, nil
	case "datetime", "timestamp":
		return TypeDatetime, nil
	default:
		return TypeInteger, errors.Errorf("unsupported column type %q", name)
	}
}

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeDecimal:
		return "DECIMAL"
	case TypeVarchar:
		return "VARCHAR"
	case TypeDate:
		return "DATE"
	case TypeDatetime:
		return "DATETIME"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Domain is the encodable integer range of one column. Generated values lie in
// [Min, Min+Size-1]; Min-1 and Min+Size are reserved for predicates that match
// nothing or everything.
type Domain struct {
	Min          int64
	Size         int64
	NullFraction decimal.Decimal
	Encoding     ColumnType
	// Scale is the number of fractional digits for decimal encodings.
	Scale int32
}

// Max returns the largest generated value.
func (d Domain) Max() int64 {
	return d.Min + d.Size - 1
}

// NeverValue is just below the domain.
func (d Domain) NeverValue() int64 {
	return d.Min - 1
}

// AlwaysValue is just above the domain.
func (d Domain) AlwaysValue() int64 {
	return d.Min + d.Size
}

// ScaleFactor returns 10^Scale for decimal encodings and 1 otherwise.
func (d Domain) ScaleFactor() float64 {
	if d.Encoding != TypeDecimal || d.Scale <= 0 {
		return 1
	}
	return math.Pow10(int(d.Scale))
}

// Grow changes the domain size by delta, never below zero.
func (d *Domain) Grow(delta int64) {
	d.Size += delta
	if d.Size < 0 {
		d.Size = 0
	}
}

// Validate checks the domain invariants.
func (d Domain) Validate() error {
	if d.Size < 0 {
		return errors.Errorf("domain size %d is negative", d.Size)
	}
	if d.NullFraction.IsNegative() || d.NullFraction.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Errorf("null fraction %s outside [0,1]", d.NullFraction)
	}
	if d.Size > 0 && d.Min > math.MaxInt64-d.Size {
		return errors.Errorf("domain [%d, +%d] overflows int64", d.Min, d.Size)
	}
	return nil
}

// Stats is what the statistics collaborator reports for one column.
type Stats struct {
	DistinctCount   int64
	NullProbability float64
	AvgByteLength   float64
	RangeMin        int64
	RangeMax        int64
	HasRange        bool
}

// ColumnKind separates generated attributes from key columns.
type ColumnKind int

// Column kinds.
const (
	KindAttribute ColumnKind = iota
	KindPrimaryKey
	KindForeignKey
)

// Column describes one table column and its domain.
type Column struct {
	Table     string
	Name      string
	Kind      ColumnKind
	Domain    Domain
	AvgLength int
	Template  TextTemplate
	// RefTable is set for foreign keys.
	RefTable string

	mapper func(int64) string
}

// Canonical returns the table-qualified column name.
func (c *Column) Canonical() string {
	return ColumnRef(c.Table, c.Name)
}

// ApplyStats rebuilds the domain from collected statistics. Integer-like
// encodings keep Min at the observed minimum; other encodings start at zero.
func (c *Column) ApplyStats(s Stats) {
	if s.DistinctCount >= 0 {
		c.Domain.Size = s.DistinctCount
	}
	c.Domain.NullFraction = decimal.NewFromFloat(s.NullProbability).Round(8)
	if s.AvgByteLength > 0 {
		c.AvgLength = int(math.Round(s.AvgByteLength))
	}
	if s.HasRange && c.Domain.Encoding != TypeVarchar {
		c.Domain.Min = s.RangeMin
		if span := s.RangeMax - s.RangeMin + 1; span > 0 && span < c.Domain.Size {
			c.Domain.Size = span
		}
	}
}

// Table describes a generated table.
type Table struct {
	Name       string
	Rows       int64
	Columns    []*Column
	PrimaryKey string
}

// ColumnByName returns a column by name if present.
func (t *Table) ColumnByName(name string) (*Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return nil, false
}

// Attributes returns the columns whose values come from a distribution.
func (t *Table) Attributes() []*Column {
	out := make([]*Column, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.Kind == KindAttribute {
			out = append(out, col)
		}
	}
	return out
}

// ColumnRef builds a fully qualified column reference.
func ColumnRef(table, column string) string {
	return fmt.Sprintf("%s.%s", table, column)
}

// SplitColumnRef splits "table.column"; an unqualified name has an empty table.
func SplitColumnRef(ref string) (table, column string) {
	idx := strings.LastIndexByte(ref, '.')
	if idx < 0 {
		return "", ref
	}
	return ref[:idx], ref[idx+1:]
}
