package mutate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Qwiery/qwiery-sub001/wildcard"
)

var (
	// exprBlock matches a %{...} expression block.
	exprBlock = regexp.MustCompile(`%\{([^{}]*)\}`)

	// systemGetter matches a %%name token.
	systemGetter = regexp.MustCompile(`%%[A-Za-z][A-Za-z0-9]*`)

	// freeGetter matches a getter token with its optional _Type
	// and :default suffixes (parenthesized or bare).  System
	// getters also match; the third pass skips those.
	freeGetter = regexp.MustCompile(`%%?[A-Za-z0-9]+(?:_(?:\([^)]*\)|[A-Za-z0-9]+))?(?::(?:\([^)]*\)|[A-Za-z0-9]+))?`)
)

// stringify renders a substitution value into a string.  Scalars by
// fmt, composites by JSON.
func stringify(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		// Avoid "7.000000"-style output for whole numbers.
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%g", vv)
	case bool, int, int64:
		return fmt.Sprint(vv)
	default:
		js, err := json.Marshal(&x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(js)
	}
}

// replace runs the substitution pipeline: three sequential passes
// over the same string, in fixed order.
//
// 1. %{expr} blocks: the FIRST such block found is evaluated, and
// every literal occurrence of that exact block text is replaced with
// the result.  A second, differently-worded block in the same string
// is left unevaluated.  That first-block-only behavior is
// intentional; preserve it.
//
// 2. System getters (%%name): resolved via GetSystemVariable; a
// resolved token is replaced, an unresolved one is left as-is.
//
// 3. Free getters (%name[_Type][:default], excluding %%): positional
// (numeric) names resolve via GetWildcard, the rest via GetVariable;
// an unresolved getter falls back to its parsed default; a token with
// no value at all stays in place.
func (m *mutation) replace(s string) (string, error) {
	// Pass 1: expression blocks.
	if loc := exprBlock.FindStringSubmatchIndex(s); loc != nil {
		block := s[loc[0]:loc[1]]
		src := s[loc[2]:loc[3]]
		x, err := m.eval(src)
		if err != nil {
			return "", err
		}
		s = strings.ReplaceAll(s, block, stringify(x))
	}

	// Pass 2: system getters.
	for _, token := range uniqueStrings(systemGetter.FindAllString(s, -1)) {
		if m.mc.GetSystemVariable == nil {
			continue
		}
		name := strings.TrimPrefix(token, "%%")
		if x, have := m.mc.GetSystemVariable(name); have {
			s = strings.ReplaceAll(s, token, stringify(x))
		}
	}

	// Pass 3: free getters.
	for _, token := range uniqueStrings(freeGetter.FindAllString(s, -1)) {
		if strings.HasPrefix(token, "%%") {
			continue
		}
		g, err := wildcard.Parse(token)
		if err != nil || g == nil {
			continue
		}

		var (
			x    interface{}
			have bool
		)
		if g.IsNumeric {
			if m.mc.GetWildcard != nil {
				x, have = m.mc.GetWildcard(g.Name)
			}
		} else {
			x, have = m.mc.variable(g.Name)
		}
		if !have && g.HasDefault {
			x, have = g.Default, true
		}
		if have {
			s = strings.ReplaceAll(s, token, stringify(x))
		}
	}

	return s, nil
}

func uniqueStrings(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	acc := make([]string, 0, len(xs))
	for _, x := range xs {
		if seen[x] {
			continue
		}
		seen[x] = true
		acc = append(acc, x)
	}
	return acc
}
