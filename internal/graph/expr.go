package graph

import (
	"fmt"
	"math"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/roach88/paramgraph/internal/param"
)

// Expr compiles an expression over the declared dependencies into a Func.
//
// Dependencies are visible as category.key (or category["key"] for keys that
// are not identifiers). Only declared categories are in scope, so a reference
// to anything else fails at compile time. The math helpers sqrt, ln, log10,
// exp, pow, sin, cos and tan are available alongside expr's builtins.
func Expr(expression string, deps []param.Path) (Func, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}

	options := []exprlang.Option{exprlang.Env(exprEnvironment(deps, nil))}
	options = append(options, mathFunctions()...)

	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expression, err)
	}
	referenced := referencedPaths(tree.Node, deps)

	return exprFunc(program, expression, deps, referenced), nil
}

func exprFunc(program *exprvm.Program, expression string, deps, referenced []param.Path) Func {
	return func(in *Inputs) (Output, error) {
		values := make(map[param.Path]param.Value, len(deps))
		for _, dep := range referenced {
			v, err := in.ValueAt(dep)
			if err != nil {
				return Output{}, err
			}
			values[dep] = v
		}

		raw, err := exprlang.Run(program, exprEnvironment(deps, values))
		if err != nil {
			return Output{}, fmt.Errorf("evaluate %q: %w", expression, err)
		}

		var v param.Value
		switch r := raw.(type) {
		case float64:
			v = param.Number(r)
		case int:
			v = param.Number(float64(r))
		case int64:
			v = param.Number(float64(r))
		case string:
			v = param.Text(r)
		default:
			return Output{}, fmt.Errorf("evaluate %q: unsupported result type %T", expression, raw)
		}
		return Output{Value: v}, nil
	}
}

// exprEnvironment builds the nested category → key → value map.
// With nil values every dependency is present with a zero placeholder, which
// is enough for type checking at compile time.
func exprEnvironment(deps []param.Path, values map[param.Path]param.Value) map[string]any {
	env := make(map[string]any)
	for _, dep := range deps {
		cat, ok := env[dep.Category].(map[string]any)
		if !ok {
			cat = make(map[string]any)
			env[dep.Category] = cat
		}
		if values == nil {
			cat[dep.Key] = any(0.0)
			continue
		}
		if v, ok := values[dep]; ok {
			cat[dep.Key] = param.ToAny(v)
		}
	}
	return env
}

// pathCollector records member accesses and bare identifiers.
// ast.Walk visits children before parents, so classification happens after
// the walk.
type pathCollector struct {
	members []*ast.MemberNode
	idents  []*ast.IdentifierNode
}

func (c *pathCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.MemberNode:
		c.members = append(c.members, n)
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	}
}

// referencedPaths returns the declared dependencies node reads, in
// declaration order.
func referencedPaths(node ast.Node, deps []param.Path) []param.Path {
	c := &pathCollector{}
	ast.Walk(&node, c)

	found := make(map[param.Path]bool)
	markCategory := func(category string) {
		for _, dep := range deps {
			if dep.Category == category {
				found[dep] = true
			}
		}
	}

	owned := make(map[*ast.IdentifierNode]bool)
	for _, m := range c.members {
		ident, ok := m.Node.(*ast.IdentifierNode)
		if !ok {
			continue
		}
		owned[ident] = true
		prop, ok := m.Property.(*ast.StringNode)
		if !ok {
			// Computed key: any dependency in the category may be read.
			markCategory(ident.Value)
			continue
		}
		found[param.P(ident.Value, prop.Value)] = true
	}
	// A bare identifier hands the whole category to the expression.
	for _, ident := range c.idents {
		if !owned[ident] {
			markCategory(ident.Value)
		}
	}

	var out []param.Path
	for _, dep := range deps {
		if found[dep] {
			out = append(out, dep)
		}
	}
	return out
}

func mathFunctions() []exprlang.Option {
	unary := map[string]func(float64) float64{
		"sqrt":  math.Sqrt,
		"ln":    math.Log,
		"log10": math.Log10,
		"exp":   math.Exp,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
	}
	var options []exprlang.Option
	for _, name := range []string{"sqrt", "ln", "log10", "exp", "sin", "cos", "tan"} {
		fn := unary[name]
		options = append(options, exprlang.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(params))
			}
			x, err := toFloat(params[0])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return fn(x), nil
		}))
	}
	options = append(options, exprlang.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow: expected 2 arguments, got %d", len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, fmt.Errorf("pow: %w", err)
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, fmt.Errorf("pow: %w", err)
		}
		return math.Pow(x, y), nil
	}))
	return options
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
