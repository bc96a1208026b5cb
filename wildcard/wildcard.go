// Package wildcard parses the '%'-prefixed getter tokens that appear
// in utterance patterns and in response templates.
//
// A getter token looks like "%name", "%%name", "%name_Type:default",
// "%name_(\A,B)", or "%name:(some default with spaces)".  The leading
// "%%" marks a system getter.  A purely numeric name ("%1", "%113")
// is a positional wildcard.
package wildcard

import (
	"strconv"
	"strings"
)

// Getter is the parsed structure of a getter token.
type Getter struct {
	// Name is the core token with the '%' prefix stripped.
	//
	// For a positional wildcard, Name is the (decimal) position:
	// "1", "2", ....
	Name string `json:"name"`

	// IsSystem reports a leading "%%".
	IsSystem bool `json:"isSystem,omitempty"`

	// IsNumeric is true iff Name parses as an integer.
	IsNumeric bool `json:"isNumeric,omitempty"`

	// HasType reports an optional "_Type" suffix (which precedes
	// any default).
	HasType bool `json:"hasType,omitempty"`

	// Type is the raw type suffix (without the '_').
	Type string `json:"type,omitempty"`

	// HasExtendedType reports a parenthesized type suffix such as
	// "_(\A,B)", which splits into Types.
	HasExtendedType bool `json:"hasExtendedType,omitempty"`

	// Types is the list from an extended type suffix.
	Types []string `json:"types,omitempty"`

	// HasDefault reports an optional ":default" suffix.
	HasDefault bool `json:"hasDefault,omitempty"`

	// Default is the fallback value used when the getter cannot
	// be resolved.
	Default string `json:"default,omitempty"`

	// HasExtendedDefault reports a parenthesized default such as
	// ":(text with spaces)".
	HasExtendedDefault bool `json:"hasExtendedDefault,omitempty"`
}

// BadGetter is returned by Parse when a token contains more than one
// type or default delimiter.
type BadGetter struct {
	Token  string
	Reason string
}

func (e *BadGetter) Error() string {
	return `bad getter "` + e.Token + `": ` + e.Reason
}

// indexOutsideParens returns the index of the first occurrence of c
// in s that is not inside a parenthesized group, along with the total
// count of such occurrences.
func indexOutsideParens(s string, c byte) (int, int) {
	depth, first, count := 0, -1, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if 0 < depth {
				depth--
			}
		case c:
			if depth == 0 {
				if first < 0 {
					first = i
				}
				count++
			}
		}
	}
	return first, count
}

// Parse parses a getter token.
//
// Returns nil (and no error) if the token contains no '%' at all.
// Returns an error if the token contains more than one ':' or more
// than one '_' (outside of parenthesized groups).
func Parse(token string) (*Getter, error) {
	if !strings.Contains(token, "%") {
		return nil, nil
	}

	g := &Getter{}

	s := token
	if strings.HasPrefix(s, "%%") {
		g.IsSystem = true
		s = s[2:]
	}
	s = strings.ReplaceAll(s, "%", "")

	colonAt, colons := indexOutsideParens(s, ':')
	if 1 < colons {
		return nil, &BadGetter{token, "more than one ':'"}
	}
	underAt, unders := indexOutsideParens(s, '_')
	if 1 < unders {
		return nil, &BadGetter{token, "more than one '_'"}
	}

	if 0 <= colonAt {
		d := s[colonAt+1:]
		s = s[:colonAt]
		if strings.HasPrefix(d, "(") && strings.HasSuffix(d, ")") {
			g.HasExtendedDefault = true
			d = d[1 : len(d)-1]
		}
		g.HasDefault = true
		g.Default = d
	}

	if 0 <= underAt && underAt < len(s) {
		t := s[underAt+1:]
		s = s[:underAt]
		if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
			g.HasExtendedType = true
			t = t[1 : len(t)-1]
			for _, part := range strings.Split(t, ",") {
				part = strings.TrimPrefix(strings.TrimSpace(part), `\`)
				if part != "" {
					g.Types = append(g.Types, part)
				}
			}
		}
		g.HasType = true
		g.Type = t
	}

	g.Name = s
	if _, err := strconv.Atoi(g.Name); err == nil {
		g.IsNumeric = true
	}

	return g, nil
}
