// Package mutate implements the response-template mutator: the
// directive-tree interpreter that turns a rule's Answer template into
// final output text.
//
// A template is an arbitrary JSON-ish tree.  Strings pass through a
// three-pass substitution pipeline (%{...} expression blocks, %%
// system getters, free getters).  Maps may carry directives (%if,
// %switch, %eval, %join, %rand, %fromNow, %service, %entity) that the
// mutator evaluates in source order.  Rendering is a pure transform:
// every step consumes a node and produces a new node; the input
// template is never modified.
package mutate

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Qwiery/qwiery-sub001/expr"
)

// mutation carries the per-call rendering state.
type mutation struct {
	ctx context.Context
	mc  *Context
	env map[string]interface{}
}

// Mutate renders a template against a capability context.
//
// The template root is deep-cloned first, so evaluation can never
// leak into the caller's copy.  The result type mirrors the template:
// a string template yields a string; a tree yields a tree with the
// same shape minus resolved directives.
func Mutate(ctx context.Context, template interface{}, mc *Context) (interface{}, error) {
	if mc == nil {
		mc = &Context{}
	}

	root, err := clone(template)
	if err != nil {
		return nil, err
	}

	m := &mutation{
		ctx: ctx,
		mc:  mc,
		env: mc.env(),
	}

	return m.render(root)
}

// clone deep-copies a template tree via a JSON round trip, which also
// canonicalizes types (numbers become float64, maps become
// map[string]interface{}).
func clone(x interface{}) (interface{}, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}

func (m *mutation) eval(src string) (interface{}, error) {
	e := m.mc.evaluator()
	if e == nil {
		return nil, &MissingCapability{"evaluator"}
	}
	return e.Eval(m.ctx, src, m.env)
}

// render transforms one node.
func (m *mutation) render(node interface{}) (interface{}, error) {
	switch vv := node.(type) {
	case string:
		return m.replace(vv)

	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, x := range vv {
			y, err := m.render(x)
			if err != nil {
				return nil, err
			}
			acc[i] = y
		}
		return acc, nil

	case map[string]interface{}:
		// A node that is itself {directiveKey: ...} dispatches
		// directly to the directive handler.
		if key, have := directiveKey(vv); have {
			return m.directive(key, vv)
		}

		acc := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			// A "workflow" value must be re-evaluated lazily
			// at workflow-run time, not baked in once: the
			// workflow persists across turns and an eager
			// bake would use stale bindings.
			if strings.EqualFold(k, "workflow") {
				acc[k] = v
				continue
			}
			y, err := m.render(v)
			if err != nil {
				return nil, err
			}
			acc[k] = y
		}
		return acc, nil

	default:
		return node, nil
	}
}

// Resolve is a convenience that renders a template and returns the
// result as a string (non-strings are JSON-encoded).
func Resolve(ctx context.Context, template interface{}, mc *Context) (string, error) {
	x, err := Mutate(ctx, template, mc)
	if err != nil {
		return "", err
	}
	if x, err = expr.Resolve(ctx, x); err != nil {
		return "", err
	}
	return stringify(x), nil
}
