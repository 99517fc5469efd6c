// Package formula compiles and evaluates arithmetic dimension formulas over
// named input variables. The grammar is deliberately restricted: declared
// identifiers, numeric literals, arithmetic operators and a fixed function
// allow-list. Anything else fails to compile. This is a security boundary,
// not a convenience restriction: formulas come from configuration and must
// never reach a general-purpose evaluator.
package formula

import (
	"math"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

// allowedFunctions is the full set of callable names. Each function takes
// float64 arguments and is total except where eval reports an error.
var allowedFunctions = map[string]struct {
	minArgs int
	maxArgs int // 0 means unbounded
	apply   func(args []float64) float64
}{
	"abs":   {1, 1, func(args []float64) float64 { return math.Abs(args[0]) }},
	"round": {1, 1, func(args []float64) float64 { return math.Round(args[0]) }},
	"int":   {1, 1, func(args []float64) float64 { return math.Trunc(args[0]) }},
	"float": {1, 1, func(args []float64) float64 { return args[0] }},
	"min":   {1, 0, reduce(math.Min)},
	"max":   {1, 0, reduce(math.Max)},
}

func reduce(f func(a, b float64) float64) func(args []float64) float64 {
	return func(args []float64) float64 {
		result := args[0]
		for _, arg := range args[1:] {
			result = f(result, arg)
		}
		return result
	}
}

// Compiled is a parsed formula ready for repeated evaluation. It is
// immutable and safe for concurrent use.
type Compiled struct {
	expression string
	root       node
}

// Compile parses the expression against the declared variable set. Any
// identifier outside declaredVars and the function allow-list is rejected.
func Compile(expression string, declaredVars []string) (*Compiled, error) {
	declared := make(map[string]bool, len(declaredVars))
	for _, name := range declaredVars {
		declared[name] = true
	}

	root, err := parse(expression, declared)
	if err != nil {
		return nil, err
	}

	return &Compiled{expression: expression, root: root}, nil
}

// Expression returns the original expression text.
func (c *Compiled) Expression() string {
	return c.expression
}

// Evaluate computes the formula over the given variable values. Variables
// declared at compile time but absent from vars evaluate to zero, matching
// the exporter's behavior for dimensions a contract never reported.
// Division by zero, non-finite results and negative results are errors:
// custom dimensions must be non-negative quantities.
func (c *Compiled) Evaluate(vars map[string]float64) (float64, error) {
	result, err := c.root.eval(vars)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, ierr.NewErrorf("formula %q produced a non-finite result", c.expression).
			Mark(ierr.ErrFormula)
	}
	if result < 0 {
		return 0, ierr.NewErrorf("formula %q produced a negative result %v", c.expression, result).
			WithHint("Custom dimensions must evaluate to non-negative numbers").
			Mark(ierr.ErrFormula)
	}
	return result, nil
}
