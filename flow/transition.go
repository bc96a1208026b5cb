package flow

// CatchAll matches any transition value.
const CatchAll = "*"

// Transition is a guarded edge: it fires when From is the current
// state and Value equals the acceptance value (or Value is the "*"
// catch-all).
type Transition struct {
	From  string `json:"From"`
	To    string `json:"To"`
	Value string `json:"Value"`
}

// findTransition selects the edge for (from, value): an exact Value
// match wins over a catch-all, first-listed wins among equals.
func findTransition(transitions []*Transition, from, value string) *Transition {
	var fallback *Transition
	for _, t := range transitions {
		if canon(t.From) != canon(from) {
			continue
		}
		if canon(t.Value) == canon(value) {
			return t
		}
		if t.Value == CatchAll && fallback == nil {
			fallback = t
		}
	}
	return fallback
}
