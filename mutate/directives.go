package mutate

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// directiveKeys lists the handlers in dispatch order.
var directiveKeys = []string{
	"%if",
	"%switch",
	"%eval",
	"%join",
	"%rand",
	"%fromNow",
	"%service",
	"%entity",
}

// directiveKey reports the directive (if any) that a map node
// carries.
func directiveKey(node map[string]interface{}) (string, bool) {
	for _, key := range directiveKeys {
		if _, have := node[key]; have {
			return key, true
		}
	}
	return "", false
}

// MissingCapability occurs when a directive needs a capability that
// the supplied Context doesn't carry.
type MissingCapability struct {
	Name string
}

func (e *MissingCapability) Error() string {
	return `mutation context lacks "` + e.Name + `"`
}

// BadDirective occurs when a directive's operand has the wrong shape.
type BadDirective struct {
	Directive string
	Detail    string
}

func (e *BadDirective) Error() string {
	return e.Directive + ": " + e.Detail
}

// directive dispatches one directive node.  The whole node is
// replaced by the handler's result.
func (m *mutation) directive(key string, node map[string]interface{}) (interface{}, error) {
	switch key {
	case "%if":
		return m.ifDirective(node)
	case "%switch":
		return m.switchDirective(node)
	case "%eval":
		return m.evalDirective(node)
	case "%join":
		return m.joinDirective(node)
	case "%rand":
		return m.randDirective(node)
	case "%fromNow":
		return m.fromNowDirective(node)
	case "%service":
		return m.serviceDirective(node)
	case "%entity":
		return m.entityDirective(node)
	}
	return nil, &BadDirective{key, "unknown directive"}
}

// truthy follows ECMAScript-ish semantics for condition results.
func truthy(x interface{}) bool {
	switch vv := x.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != "" && !strings.EqualFold(vv, "false")
	case float64:
		return vv != 0
	case int:
		return vv != 0
	case int64:
		return vv != 0
	default:
		return true
	}
}

func (m *mutation) ifDirective(node map[string]interface{}) (interface{}, error) {
	cond, is := node["%if"].(string)
	if !is {
		return nil, &BadDirective{"%if", "condition is not a string"}
	}
	x, err := m.eval(cond)
	if err != nil {
		return nil, err
	}
	if truthy(x) {
		return m.render(node["%then"])
	}
	return m.render(node["%else"])
}

func (m *mutation) switchDirective(node map[string]interface{}) (interface{}, error) {
	src, is := node["%switch"].(string)
	if !is {
		return nil, &BadDirective{"%switch", "expression is not a string"}
	}
	x, err := m.eval(src)
	if err != nil {
		return nil, err
	}
	label := stringify(x)
	// A case branch is rendered the same way an %if branch is.
	return m.render(node[label])
}

func (m *mutation) evalDirective(node map[string]interface{}) (interface{}, error) {
	src, is := node["%eval"].(string)
	if !is {
		return nil, &BadDirective{"%eval", "expression is not a string"}
	}
	// The result is assigned raw: any type.
	return m.eval(src)
}

func (m *mutation) joinDirective(node map[string]interface{}) (interface{}, error) {
	xs, is := node["%join"].([]interface{})
	if !is {
		return nil, &BadDirective{"%join", "operand is not an array"}
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		y, err := m.render(x)
		if err != nil {
			return nil, err
		}
		parts[i] = stringify(y)
	}
	return strings.Join(parts, " "), nil
}

func (m *mutation) randDirective(node map[string]interface{}) (interface{}, error) {
	xs, is := node["%rand"].([]interface{})
	if !is {
		return nil, &BadDirective{"%rand", "operand is not an array"}
	}
	if len(xs) == 0 {
		return nil, &BadDirective{"%rand", "operand is empty"}
	}
	return m.render(xs[rand.Intn(len(xs))])
}

// fromNowSyntax matches a duration of the form "<N>d <N>h <N>m" with
// each part optional (but at least one required).
var fromNowSyntax = regexp.MustCompile(`^\s*(?:(\d+)\s*d)?\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m)?\s*$`)

func (m *mutation) fromNowDirective(node map[string]interface{}) (interface{}, error) {
	src, is := node["%fromNow"].(string)
	if !is {
		return nil, &BadDirective{"%fromNow", "operand is not a string"}
	}
	src, err := m.replace(src)
	if err != nil {
		return nil, err
	}

	parts := fromNowSyntax.FindStringSubmatch(src)
	if parts == nil || (parts[1] == "" && parts[2] == "" && parts[3] == "") {
		return nil, &BadDirective{"%fromNow", `unparseable duration "` + src + `"`}
	}

	var d time.Duration
	if parts[1] != "" {
		n, _ := strconv.Atoi(parts[1])
		d += time.Duration(n) * 24 * time.Hour
	}
	if parts[2] != "" {
		n, _ := strconv.Atoi(parts[2])
		d += time.Duration(n) * time.Hour
	}
	if parts[3] != "" {
		n, _ := strconv.Atoi(parts[3])
		d += time.Duration(n) * time.Minute
	}

	return time.Now().UTC().Add(d).Format(time.RFC3339), nil
}

func (m *mutation) serviceDirective(node map[string]interface{}) (interface{}, error) {
	spec, is := node["%service"].(map[string]interface{})
	if !is {
		return nil, &BadDirective{"%service", "operand is not an object"}
	}
	rawURL, is := spec["URL"].(string)
	if !is {
		return nil, &BadDirective{"%service", "no URL"}
	}
	if m.mc.Fetch == nil {
		return nil, &MissingCapability{"fetch"}
	}

	// The URL goes through the substitution pipeline before the
	// fetch, so it can carry getters and expression blocks.
	url, err := m.replace(rawURL)
	if err != nil {
		return nil, err
	}

	data, err := m.mc.Fetch(m.ctx, url)
	if err != nil {
		return nil, err
	}

	if path, is := spec["Path"].(string); is && path != "" {
		return extractPath(data, path)
	}
	return data, nil
}

// extractPath walks a dotted path ("a.b.0.c") through maps and
// arrays.
func extractPath(data interface{}, path string) (interface{}, error) {
	x := data
	for _, seg := range strings.Split(path, ".") {
		switch vv := x.(type) {
		case map[string]interface{}:
			y, have := vv[seg]
			if !have {
				return nil, &BadDirective{"%service", `no "` + seg + `" in response`}
			}
			x = y
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || len(vv) <= i {
				return nil, &BadDirective{"%service", `bad index "` + seg + `"`}
			}
			x = vv[i]
		default:
			return nil, &BadDirective{"%service", `path "` + path + `" ran off the response`}
		}
	}
	return x, nil
}

func (m *mutation) entityDirective(node map[string]interface{}) (interface{}, error) {
	spec, is := node["%entity"].(map[string]interface{})
	if !is {
		return nil, &BadDirective{"%entity", "operand is not an object"}
	}
	id, _ := spec["Id"].(string)

	if m.mc.GetEntity != nil {
		if text, have := m.mc.GetEntity(id); have {
			return text, nil
		}
	}
	// No capability (or no such entity): a placeholder rather
	// than a failure.
	return "[" + id + "]", nil
}
