// Package expr defines the expression-evaluation boundary used by the
// template mutator and the dialogue state machine.
//
// An Evaluator evaluates a small expression string (arithmetic,
// comparison, boolean literals, string concatenation, function calls
// with positional arguments, chained property/index access) against a
// context map.  The implementation lives in a subpackage; see
// expr/goja.
package expr

import (
	"context"
)

// Evaluator evaluates a string expression against a context map.
//
// Context entries become names visible to the expression.  A
// syntactically invalid expression must yield a descriptive error,
// never a silent failure.
type Evaluator interface {
	Eval(ctx context.Context, src string, env map[string]interface{}) (interface{}, error)
}

// Func is a context-provided function callable from an expression.
//
// Arguments arrive positionally; they may themselves be literals,
// context properties, or the results of nested calls.
type Func func(args ...interface{}) (interface{}, error)

// Deferred is an asynchronously completed value.
//
// A context-provided function may return a Deferred instead of a
// direct value.  An Evaluator must transparently await such results
// before returning.
type Deferred func(context.Context) (interface{}, error)

// Resolve awaits x if it is Deferred; otherwise returns x unchanged.
func Resolve(ctx context.Context, x interface{}) (interface{}, error) {
	if d, is := x.(Deferred); is {
		y, err := d(ctx)
		if err != nil {
			return nil, err
		}
		// A Deferred could complete with another Deferred.
		return Resolve(ctx, y)
	}
	return x, nil
}

// DefaultEvaluators maps evaluator names to Evaluators.
//
// An implementation subpackage registers itself here from its init.
var DefaultEvaluators = make(map[string]Evaluator)

// BadExpression is returned when an expression does not parse.
type BadExpression struct {
	Src    string
	Detail string
}

func (e *BadExpression) Error() string {
	return `bad expression "` + e.Src + `": ` + e.Detail
}
