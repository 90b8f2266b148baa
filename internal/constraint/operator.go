// Package constraint holds predicate records mined from query plans, the
// parameter slots they fill, and the multi-column threshold resolver.
package constraint

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownOperator is returned for operator names that cannot be mapped.
var ErrUnknownOperator = errors.New("unknown operator")

// Operator is a comparison operator of a mined predicate.
type Operator int

// Comparison operators.
const (
	EQ Operator = iota
	NE
	LIKE
	NotLike
	IN
	NotIn
	LT
	LE
	GT
	GE
	BETWEEN
	IsNull
)

var operatorNames = map[Operator]string{
	EQ:      "eq",
	NE:      "ne",
	LIKE:    "like",
	NotLike: "not_like",
	IN:      "in",
	NotIn:   "not_in",
	LT:      "lt",
	LE:      "le",
	GT:      "gt",
	GE:      "ge",
	BETWEEN: "between",
	IsNull:  "isnull",
}

var operatorAliases = map[string]Operator{
	"=":        EQ,
	"==":       EQ,
	"!=":       NE,
	"<>":       NE,
	"not like": NotLike,
	"not in":   NotIn,
	"<":        LT,
	"<=":       LE,
	">":        GT,
	">=":       GE,
	"is null":  IsNull,
}

// ParseOperator accepts names ("lt", "not_in") and symbols ("<", "<>").
func ParseOperator(s string) (Operator, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	for op, name := range operatorNames {
		if name == key {
			return op, nil
		}
	}
	return EQ, errors.Wrapf(ErrUnknownOperator, "%q", s)
}

func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return "unknown"
}

// IsEquality reports whether o is in the equality family, negated or not.
func (o Operator) IsEquality() bool {
	switch o {
	case EQ, NE, LIKE, NotLike, IN, NotIn:
		return true
	default:
		return false
	}
}

// IsNegated reports NE, NOT LIKE and NOT IN.
func (o Operator) IsNegated() bool {
	return o == NE || o == NotLike || o == NotIn
}

// IsOrdering reports LT, LE, GT and GE.
func (o Operator) IsOrdering() bool {
	switch o {
	case LT, LE, GT, GE:
		return true
	default:
		return false
	}
}

// IsGreater reports GT and GE, the operators whose probability is complemented
// against the partition top.
func (o Operator) IsGreater() bool {
	return o == GT || o == GE
}
