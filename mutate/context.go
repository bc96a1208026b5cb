package mutate

import (
	"context"

	"github.com/Qwiery/qwiery-sub001/expr"
)

// Fetcher performs the external data fetch for the %service
// directive.  See HTTPFetcher for the standard implementation.
type Fetcher func(ctx context.Context, url string) (interface{}, error)

// Context is the capability bundle supplied to Mutate.
//
// Every function field is optional.  A missing capability degrades to
// "leave the token unresolved" (or a placeholder, for %entity); it is
// never an error by itself.  A Context is supplied fresh per
// evaluation and is never persisted.
type Context struct {
	// GetVariable resolves a free (named) getter.
	//
	// When nil, Variables is consulted directly.
	GetVariable func(name string) (interface{}, bool)

	// GetSystemVariable resolves a system ("%%") getter.
	GetSystemVariable func(name string) (interface{}, bool)

	// GetWildcard resolves a positional getter ("%1", "%2", ...).
	GetWildcard func(index string) (interface{}, bool)

	// GetEntity resolves an entity id to display text for the
	// %entity directive.
	GetEntity func(id string) (string, bool)

	SetPersonalization func(name string, value interface{}) error
	SetPersonality     func(name string, value interface{}) error
	HasPersonalization func(name string) bool

	// Capture records an utterance for later learning.
	Capture func(utterance string) error

	SpaceNameExists func(name string) bool
	TagExists       func(name string) bool
	EntityExists    func(name string) bool

	DeleteSpace  func(name string) error
	DeleteTag    func(name string) error
	DeleteEntity func(name string) error

	// Language is the current language tag, if known.
	Language string

	// Variables holds the evaluation context for expressions and
	// free getters.
	Variables map[string]interface{}

	// Evaluator evaluates %{...} blocks, %if conditions, %switch,
	// and %eval directives.  When nil, DefaultEvaluators["goja"]
	// is used if registered.
	Evaluator expr.Evaluator

	// Fetch performs the %service data fetch.
	Fetch Fetcher
}

// variable resolves a free getter name.
func (mc *Context) variable(name string) (interface{}, bool) {
	if mc.GetVariable != nil {
		return mc.GetVariable(name)
	}
	if mc.Variables != nil {
		x, have := mc.Variables[name]
		return x, have
	}
	return nil, false
}

func (mc *Context) evaluator() expr.Evaluator {
	if mc.Evaluator != nil {
		return mc.Evaluator
	}
	return expr.DefaultEvaluators["goja"]
}

// env builds the expression environment: the Variables map augmented
// so that every array-valued entry key gains an index-accessor
// function under "%key", recursing into nested plain-object values.
//
// The augmentation copies maps as it goes; the caller's Variables are
// not modified.
func (mc *Context) env() map[string]interface{} {
	return augmented(mc.Variables)
}

func accessor(xs []interface{}) expr.Func {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) == 0 {
			return nil, nil
		}
		i, is := asInt(args[0])
		if !is || i < 0 || len(xs) <= i {
			return nil, nil
		}
		return xs[i], nil
	}
}

func asInt(x interface{}) (int, bool) {
	switch vv := x.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		return int(vv), true
	default:
		return 0, false
	}
}

func augmented(m map[string]interface{}) map[string]interface{} {
	acc := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		switch vv := v.(type) {
		case []interface{}:
			acc[k] = vv
			acc["%"+k] = accessor(vv)
		case map[string]interface{}:
			acc[k] = augmented(vv)
		default:
			acc[k] = v
		}
	}
	return acc
}
