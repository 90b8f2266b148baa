package schema

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the on-disk schema description.
type File struct {
	Tables []FileTable `yaml:"tables"`
}

// FileTable describes one table in a schema file.
type FileTable struct {
	Name        string           `yaml:"name"`
	Rows        int64            `yaml:"rows"`
	PrimaryKey  string           `yaml:"primary_key"`
	ForeignKeys []FileForeignKey `yaml:"foreign_keys"`
	Columns     []FileColumn     `yaml:"columns"`
}

// FileForeignKey links a column to another table's primary key.
type FileForeignKey struct {
	Column   string `yaml:"column"`
	RefTable string `yaml:"ref_table"`
}

// FileColumn describes one column and its statistics.
type FileColumn struct {
	Name         string       `yaml:"name"`
	Type         string       `yaml:"type"`
	Scale        int32        `yaml:"scale"`
	NDV          int64        `yaml:"ndv"`
	NullFraction float64      `yaml:"null_fraction"`
	Min          string       `yaml:"min"`
	Max          string       `yaml:"max"`
	AvgLength    float64      `yaml:"avg_length"`
	Template     TextTemplate `yaml:"template"`
}

// LoadFile reads a schema YAML file into a registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse schema %s", path)
	}
	return f.Build()
}

// Build converts the file description into a registry.
func (f File) Build() (*Registry, error) {
	reg := NewRegistry()
	for _, ft := range f.Tables {
		t := &Table{Name: ft.Name, Rows: ft.Rows, PrimaryKey: ft.PrimaryKey}
		fks := make(map[string]string, len(ft.ForeignKeys))
		for _, fk := range ft.ForeignKeys {
			fks[fk.Column] = fk.RefTable
		}
		if ft.PrimaryKey != "" {
			if _, declared := findFileColumn(ft.Columns, ft.PrimaryKey); !declared {
				t.Columns = append(t.Columns, &Column{Name: ft.PrimaryKey, Kind: KindPrimaryKey})
			}
		}
		for _, fc := range ft.Columns {
			col, err := buildColumn(fc)
			if err != nil {
				return nil, errors.Wrapf(err, "table %s", ft.Name)
			}
			switch {
			case fc.Name == ft.PrimaryKey:
				col.Kind = KindPrimaryKey
			case fks[fc.Name] != "":
				col.Kind = KindForeignKey
				col.RefTable = fks[fc.Name]
			}
			t.Columns = append(t.Columns, col)
		}
		if err := reg.AddTable(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func findFileColumn(cols []FileColumn, name string) (FileColumn, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return FileColumn{}, false
}

func buildColumn(fc FileColumn) (*Column, error) {
	typ, err := ParseColumnType(fc.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "column %s", fc.Name)
	}
	col := &Column{
		Name:      fc.Name,
		Kind:      KindAttribute,
		Template:  fc.Template,
		AvgLength: int(math.Round(fc.AvgLength)),
		Domain: Domain{
			Size:         fc.NDV,
			NullFraction: decimal.NewFromFloat(fc.NullFraction),
			Encoding:     typ,
			Scale:        fc.Scale,
		},
	}
	if fc.Min != "" {
		lo, err := ParseValue(typ, fc.Scale, fc.Min)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s min", fc.Name)
		}
		col.Domain.Min = lo
		if fc.Max != "" {
			hi, err := ParseValue(typ, fc.Scale, fc.Max)
			if err != nil {
				return nil, errors.Wrapf(err, "column %s max", fc.Name)
			}
			if span := hi - lo + 1; span > 0 && (col.Domain.Size <= 0 || span < col.Domain.Size) {
				col.Domain.Size = span
			}
		}
	}
	if err := col.Domain.Validate(); err != nil {
		return nil, errors.Wrapf(err, "column %s", fc.Name)
	}
	return col, nil
}

// ParseValue encodes a literal of the given type into the integer domain.
func ParseValue(typ ColumnType, scale int32, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case TypeDate, TypeDatetime:
		return ParseTemporal(typ, raw)
	case TypeDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return 0, err
		}
		return d.Shift(scale).Round(0).IntPart(), nil
	default:
		return strconv.ParseInt(raw, 10, 64)
	}
}
