package constraint

import (
	"os"
	"strings"

	"mirage/internal/arith"
	"mirage/internal/schema"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the on-disk workload description produced by the plan readers.
type File struct {
	Parameters     []FileParameter  `yaml:"parameters"`
	IdentityGroups [][]int          `yaml:"identity_groups"`
	Constraints    []FileConstraint `yaml:"constraints"`
	Joins          []FileJoin       `yaml:"joins"`
}

// FileParameter declares slot options.
type FileParameter struct {
	ID       int  `yaml:"id"`
	CanMerge bool `yaml:"can_merge"`
}

// FileConstraint is one predicate. Expression marks a multi-column predicate.
type FileConstraint struct {
	Table       string    `yaml:"table"`
	Column      string    `yaml:"column"`
	Expression  string    `yaml:"expression"`
	Operator    string    `yaml:"operator"`
	Probability string    `yaml:"probability"`
	Parameters  []int     `yaml:"parameters"`
	Lower       *FileSide `yaml:"lower"`
	Upper       *FileSide `yaml:"upper"`
}

// FileSide is one bound of a between predicate.
type FileSide struct {
	Operator   string `yaml:"operator"`
	Parameters []int  `yaml:"parameters"`
}

// FileJoin links parameter slots across a join.
type FileJoin struct {
	Left       string `yaml:"left"`
	Right      string `yaml:"right"`
	Parameters []int  `yaml:"parameters"`
}

// LoadFile reads a workload YAML file.
func LoadFile(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse workload %s", path)
	}
	return f.Build()
}

// Build validates the file and resolves ids into shared parameter slots.
func (f File) Build() (*Workload, error) {
	w := NewWorkload()
	for _, fp := range f.Parameters {
		w.Parameter(fp.ID).CanMerge = fp.CanMerge
	}
	for _, group := range f.IdentityGroups {
		w.Groups.Union(group...)
	}
	for i, fc := range f.Constraints {
		if err := w.addConstraint(fc); err != nil {
			return nil, errors.Wrapf(err, "constraint #%d", i)
		}
	}
	for i, fj := range f.Joins {
		if fj.Left == "" || fj.Right == "" {
			return nil, errors.Errorf("join #%d needs left and right columns", i)
		}
		w.Joins = append(w.Joins, JoinRecord{Left: fj.Left, Right: fj.Right, ParameterIDs: fj.Parameters})
		w.Groups.Union(fj.Parameters...)
	}
	return w, nil
}

func (w *Workload) addConstraint(fc FileConstraint) error {
	op, err := ParseOperator(fc.Operator)
	if err != nil {
		return err
	}
	p, err := ParseProbability(fc.Probability)
	if err != nil {
		return err
	}
	if fc.Table == "" {
		return errors.New("missing table")
	}
	if strings.TrimSpace(fc.Expression) != "" {
		if !op.IsOrdering() {
			return errors.Errorf("multi-column predicate needs lt/le/gt/ge, got %s", op)
		}
		node, err := arith.Parse(fc.Expression)
		if err != nil {
			return err
		}
		w.MultiColumns = append(w.MultiColumns, &MultiColumn{
			Table:       fc.Table,
			Text:        fc.Expression,
			Expr:        arith.Qualify(node, fc.Table),
			Operator:    op,
			Probability: p,
			Parameters:  w.Slots(fc.Parameters),
		})
		return nil
	}
	table, column := fc.Table, fc.Column
	if t, c := schema.SplitColumnRef(column); t != "" {
		table, column = t, c
	}
	if column == "" {
		return errors.New("missing column")
	}
	rec := Record{Table: table, Column: column, Operator: op, Probability: p}
	if op == BETWEEN {
		if fc.Lower == nil || fc.Upper == nil {
			return errors.New("between needs lower and upper sides")
		}
		lower, err := w.side(fc.Lower, GE, GT)
		if err != nil {
			return errors.Wrap(err, "lower")
		}
		upper, err := w.side(fc.Upper, LE, LT)
		if err != nil {
			return errors.Wrap(err, "upper")
		}
		rec.Lower, rec.Upper = lower, upper
	} else {
		if op == IsNull {
			return errors.New("isnull predicates are covered by the null fraction")
		}
		rec.Parameters = w.Slots(fc.Parameters)
	}
	w.Records = append(w.Records, rec)
	return nil
}

func (w *Workload) side(fs *FileSide, allowed ...Operator) (*Side, error) {
	op, err := ParseOperator(fs.Operator)
	if err != nil {
		return nil, err
	}
	for _, a := range allowed {
		if op == a {
			return &Side{Operator: op, Parameters: w.Slots(fs.Parameters)}, nil
		}
	}
	return nil, errors.Errorf("operator %s not allowed here", op)
}

// ParseProbability parses a selectivity in [0, 1].
func ParseProbability(s string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "probability %q", s)
	}
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Errorf("probability %s outside [0,1]", p)
	}
	return p, nil
}
