// Package goja implements expr.Evaluator using Goja, a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
package goja

import (
	"context"
	"fmt"
	"time"

	"github.com/Qwiery/qwiery-sub001/expr"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
)

// init adds an Evaluator as one of the expr.DefaultEvaluators.
func init() {
	expr.DefaultEvaluators["goja"] = NewEvaluator()
}

// Evaluator evaluates expressions in a fresh Goja runtime per call.
//
// Context entries are installed as globals, so expressions can use
// chained property and index access ("a.b[0].c") directly.  A
// context entry that is an expr.Func is wrapped so that an
// expr.Deferred result is awaited before the value reaches the
// expression; a Deferred produced at the top level is awaited before
// Eval returns.
type Evaluator struct {
	// Testing exposes a sleep() utility in the runtime.
	Testing bool
}

// NewEvaluator makes a new Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// protest panics with a Goja value, which surfaces as an ECMAScript
// exception.
func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

// export unwraps a goja.Value argument.
func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// wrapFunc adapts an expr.Func for the runtime, awaiting Deferred
// results and converting errors to exceptions.
func wrapFunc(ctx context.Context, o *goja.Runtime, f expr.Func) func(args ...interface{}) interface{} {
	return func(args ...interface{}) interface{} {
		for i, a := range args {
			args[i] = export(a)
		}
		y, err := f(args...)
		if err != nil {
			protest(o, err.Error())
		}
		if y, err = expr.Resolve(ctx, y); err != nil {
			protest(o, err.Error())
		}
		return y
	}
}

// Eval implements expr.Evaluator.
func (e *Evaluator) Eval(ctx context.Context, src string, env map[string]interface{}) (interface{}, error) {
	p, err := goja.Compile("", src, true)
	if err != nil {
		return nil, &expr.BadExpression{Src: src, Detail: err.Error()}
	}

	o := goja.New()

	for k, v := range env {
		switch f := v.(type) {
		case expr.Func:
			o.Set(k, wrapFunc(ctx, o, f))
		case func(args ...interface{}) (interface{}, error):
			o.Set(k, wrapFunc(ctx, o, expr.Func(f)))
		default:
			o.Set(k, v)
		}
	}

	o.Set("cronNext", func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		c, err := cronexpr.Parse(s)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	})

	if e.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	interrupted := false
	if deadline, have := ctx.Deadline(); have {
		timer := time.AfterFunc(time.Until(deadline), func() {
			interrupted = true
			o.Interrupt("timeout")
		})
		defer timer.Stop()
	}

	v, err := o.RunProgram(p)
	if err != nil {
		if interrupted {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %s", err.Error(), src)
	}

	var x interface{}
	if v != nil {
		x = v.Export()
	}

	return expr.Resolve(ctx, x)
}
