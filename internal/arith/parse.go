package arith

import (
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver"
	"github.com/pkg/errors"
)

// Parse builds a Node from SQL arithmetic text such as
// "l_extendedprice * (1 - l_discount)".
func Parse(text string) (Node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Wrap(ErrUnsupportedExpr, "empty expression")
	}
	p := parser.New()
	stmt, err := p.ParseOneStmt("SELECT "+text, "", "")
	if err != nil {
		return nil, errors.Wrapf(err, "parse expression %q", text)
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || sel.Fields == nil || len(sel.Fields.Fields) != 1 || sel.Fields.Fields[0].Expr == nil {
		return nil, errors.Wrapf(ErrUnsupportedExpr, "%q is not a single expression", text)
	}
	return convert(sel.Fields.Fields[0].Expr)
}

func convert(expr ast.ExprNode) (Node, error) {
	switch v := expr.(type) {
	case *ast.ParenthesesExpr:
		return convert(v.Expr)
	case *ast.ColumnNameExpr:
		if v.Name == nil || v.Name.Name.O == "" {
			return nil, errors.Wrap(ErrUnsupportedExpr, "empty column name")
		}
		name := v.Name.Name.O
		if v.Name.Table.O != "" {
			name = v.Name.Table.O + "." + name
		}
		return Column{Name: name}, nil
	case *ast.BinaryOperationExpr:
		op, ok := binaryOps[v.Op]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedExpr, "operator %s", v.Op)
		}
		left, err := convert(v.L)
		if err != nil {
			return nil, err
		}
		right, err := convert(v.R)
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, Left: left, Right: right}, nil
	case *ast.UnaryOperationExpr:
		child, err := convert(v.V)
		if err != nil {
			return nil, err
		}
		switch v.Op {
		case opcode.Minus:
			if c, ok := child.(Constant); ok {
				return Constant{Value: -c.Value}, nil
			}
			return Negate{Child: child}, nil
		case opcode.Plus:
			return child, nil
		default:
			return nil, errors.Wrapf(ErrUnsupportedExpr, "unary operator %s", v.Op)
		}
	case ast.ValueExpr:
		text, err := restore(v)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrUnsupportedExpr, "literal %s", text)
		}
		return Constant{Value: f}, nil
	default:
		text, _ := restore(expr)
		return nil, errors.Wrapf(ErrUnsupportedExpr, "%T %s", expr, text)
	}
}

var binaryOps = map[opcode.Op]Op{
	opcode.Plus:  OpAdd,
	opcode.Minus: OpSub,
	opcode.Mul:   OpMul,
	opcode.Div:   OpDiv,
}

func restore(node ast.Node) (string, error) {
	var b strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &b)
	if err := node.Restore(ctx); err != nil {
		return "", err
	}
	return b.String(), nil
}
