package flow

// Validate checks a workflow's structure:
//
//   - state names unique (case-insensitively)
//   - exactly one initial state
//   - at least one final state (when any states exist)
//   - a single-state workflow is both initial and final with no
//     transitions
//   - transition endpoints name existing states
//   - no duplicate (from, to, value) triples
//   - every state kind has a registered handler
func Validate(name string, states []*State, transitions []*Transition) error {
	if len(states) == 0 {
		if 0 < len(transitions) {
			return &BadDefinition{name, "transitions without states"}
		}
		return nil
	}

	seen := make(map[string]bool, len(states))
	initials := 0
	finals := 0
	for _, s := range states {
		if s.Name == "" {
			return &BadDefinition{name, "state without a name"}
		}
		key := canon(s.Name)
		if seen[key] {
			return &BadDefinition{name, `duplicate state "` + s.Name + `"`}
		}
		seen[key] = true
		if s.IsInitial {
			initials++
		}
		if s.IsFinal {
			finals++
		}
		if !knownStateType(s.Type) {
			return &UnknownStateType{s.Type}
		}
	}
	if initials != 1 {
		return &BadDefinition{name, "need exactly one initial state"}
	}
	if finals == 0 {
		return &BadDefinition{name, "need at least one final state"}
	}
	if len(states) == 1 {
		s := states[0]
		if !s.IsInitial || !s.IsFinal {
			return &BadDefinition{name, "a lone state must be initial and final"}
		}
		if 0 < len(transitions) {
			return &BadDefinition{name, "a lone state takes no transitions"}
		}
	}

	triples := make(map[string]bool, len(transitions))
	for _, t := range transitions {
		if !seen[canon(t.From)] {
			return &BadDefinition{name, `transition from unknown state "` + t.From + `"`}
		}
		if !seen[canon(t.To)] {
			return &BadDefinition{name, `transition to unknown state "` + t.To + `"`}
		}
		key := canon(t.From) + "\x00" + canon(t.To) + "\x00" + canon(t.Value)
		if triples[key] {
			return &BadDefinition{name, `duplicate transition "` + t.From + `" -> "` + t.To + `"`}
		}
		triples[key] = true
	}

	return nil
}
