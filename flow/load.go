package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jsccast/yaml"

	"github.com/Qwiery/qwiery-sub001/util"
)

// Definition is an authored workflow: the reusable shape from which
// running Workflow instances are made.
type Definition struct {
	Name string `json:"Name"`
	Id   string `json:"Id,omitempty"`

	SaveReminder bool   `json:"SaveReminder,omitempty"`
	Reminder     string `json:"Reminder,omitempty"`
	QuitMessage  string `json:"QuitMessage,omitempty"`

	States      []*State      `json:"States"`
	Transitions []*Transition `json:"Transitions"`
}

// ParseDefinition reads an authored workflow document, JSON or YAML,
// accepting the authoring shorthands:
//
//   - States as a name-keyed map instead of an array.
//   - Transitions as "From->To" or "From->To, value" strings.
//   - Message shorthands: enter, execute, deactivate, accept, reject.
//   - Kind parameters (choices, answer, expression, check) at the
//     state level instead of nested under parameters.
func ParseDefinition(bs []byte) (*Definition, error) {
	var doc map[string]interface{}
	trimmed := strings.TrimSpace(string(bs))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(bs, &doc); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(bs, &doc); err != nil {
			return nil, err
		}
	}
	return normalizeDefinition(doc)
}

// FromDocument normalizes an already-parsed authored document (e.g. a
// workflow tree embedded in a rule answer).
func FromDocument(doc map[string]interface{}) (*Definition, error) {
	return normalizeDefinition(doc)
}

func normalizeDefinition(doc map[string]interface{}) (*Definition, error) {
	def := &Definition{}
	for k, v := range doc {
		switch canon(k) {
		case "name":
			def.Name = str(v)
		case "id":
			def.Id = str(v)
		case "savereminder", "save":
			def.SaveReminder = boolish(v)
		case "reminder", "remindermessage":
			def.Reminder = str(v)
		case "quit", "quitmessage", "quitflowmessage":
			def.QuitMessage = str(v)
		case "states":
			states, err := normalizeStates(v)
			if err != nil {
				return nil, err
			}
			def.States = states
		case "transitions":
			transitions, err := normalizeTransitions(v)
			if err != nil {
				return nil, err
			}
			def.Transitions = transitions
		}
	}
	if err := Validate(def.Name, def.States, def.Transitions); err != nil {
		return nil, err
	}
	return def, nil
}

func normalizeStates(x interface{}) ([]*State, error) {
	var acc []*State
	switch xs := x.(type) {
	case []interface{}:
		for _, s := range xs {
			m, is := s.(map[string]interface{})
			if !is {
				// A bare string is a default QA state.
				if name, isStr := s.(string); isStr {
					acc = append(acc, &State{Name: name})
					continue
				}
				return nil, &BadDefinition{"", fmt.Sprintf("bad state %#v", s)}
			}
			state, err := normalizeState("", m)
			if err != nil {
				return nil, err
			}
			acc = append(acc, state)
		}
	case map[string]interface{}:
		// Name-keyed map form.  Map order isn't stable, but
		// order doesn't matter: initial/final flags and
		// transitions define the shape.
		for name, s := range xs {
			m, is := s.(map[string]interface{})
			if !is {
				if s == nil {
					acc = append(acc, &State{Name: name})
					continue
				}
				return nil, &BadDefinition{"", fmt.Sprintf("bad state %q: %#v", name, s)}
			}
			state, err := normalizeState(name, m)
			if err != nil {
				return nil, err
			}
			acc = append(acc, state)
		}
	default:
		return nil, &BadDefinition{"", fmt.Sprintf("bad states %#v", x)}
	}
	return acc, nil
}

func normalizeState(name string, m map[string]interface{}) (*State, error) {
	s := &State{Name: name}
	for k, v := range m {
		switch canon(k) {
		case "name":
			if s.Name == "" {
				s.Name = str(v)
			}
		case "id":
			s.Id = str(v)
		case "type", "kind":
			s.Type = canonType(str(v))
		case "variable":
			s.Variable = str(v)
		case "initial", "isinitial":
			s.IsInitial = boolish(v)
		case "final", "isfinal":
			s.IsFinal = boolish(v)
		case "enter", "entermessage":
			s.EnterMessage = v
		case "execute", "executemessage":
			s.ExecuteMessage = v
		case "deactivate", "deactivatemessage":
			s.DeactivateMessage = v
		case "accept", "acceptmessage":
			s.AcceptMessage = v
		case "reject", "rejectmessage":
			s.RejectMessage = v
		case "parameters":
			p, is := v.(map[string]interface{})
			if !is {
				return nil, &BadDefinition{"", fmt.Sprintf("bad parameters for %q", s.Name)}
			}
			s.Parameters = p
		case "choices", "answer", "expression", "check":
			if s.Parameters == nil {
				s.Parameters = make(map[string]interface{})
			}
			s.Parameters[canon(k)] = v
		default:
			return nil, &BadDefinition{"", fmt.Sprintf("unknown state property %q", k)}
		}
	}
	if s.Name == "" {
		return nil, &BadDefinition{"", "state without a name"}
	}
	if s.Id == "" {
		s.Id = util.Gensym(16)
	}
	return s, nil
}

func normalizeTransitions(x interface{}) ([]*Transition, error) {
	xs, is := x.([]interface{})
	if !is {
		return nil, &BadDefinition{"", fmt.Sprintf("bad transitions %#v", x)}
	}
	var acc []*Transition
	for _, t := range xs {
		switch tt := t.(type) {
		case string:
			tr, err := parseTransition(tt)
			if err != nil {
				return nil, err
			}
			acc = append(acc, tr)
		case map[string]interface{}:
			tr := &Transition{Value: CatchAll}
			for k, v := range tt {
				switch canon(k) {
				case "from":
					tr.From = str(v)
				case "to":
					tr.To = str(v)
				case "value", "on":
					tr.Value = str(v)
				default:
					return nil, &BadDefinition{"", fmt.Sprintf("unknown transition property %q", k)}
				}
			}
			acc = append(acc, tr)
		default:
			return nil, &BadDefinition{"", fmt.Sprintf("bad transition %#v", t)}
		}
	}
	return acc, nil
}

// parseTransition reads the "From->To" and "From->To, value" string
// forms.  An omitted value means the catch-all.
func parseTransition(s string) (*Transition, error) {
	value := CatchAll
	if at := strings.Index(s, ","); 0 <= at {
		value = strings.TrimSpace(s[at+1:])
		s = s[:at]
	}
	parts := strings.Split(s, "->")
	if len(parts) != 2 {
		return nil, &BadDefinition{"", fmt.Sprintf("bad transition %q", s)}
	}
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" || to == "" || value == "" {
		return nil, &BadDefinition{"", fmt.Sprintf("bad transition %q", s)}
	}
	return &Transition{From: from, To: to, Value: value}, nil
}

func str(x interface{}) string {
	if x == nil {
		return ""
	}
	if s, is := x.(string); is {
		return s
	}
	return fmt.Sprintf("%v", x)
}

func boolish(x interface{}) bool {
	switch v := x.(type) {
	case bool:
		return v
	case string:
		return canon(v) == "true" || canon(v) == "yes"
	}
	return false
}

// NewWorkflow makes a fresh (not yet started) instance from a
// definition.  States are deep-copied so instances never share
// mutable state with the definition.
func NewWorkflow(def *Definition) (*Workflow, error) {
	if err := Validate(def.Name, def.States, def.Transitions); err != nil {
		return nil, err
	}
	states := make([]*State, 0, len(def.States))
	for _, s := range def.States {
		copied, err := cloneState(s)
		if err != nil {
			return nil, err
		}
		acc := copied
		acc.IsActive = false
		acc.Strikes = 0
		states = append(states, acc)
	}
	transitions := make([]*Transition, 0, len(def.Transitions))
	for _, t := range def.Transitions {
		copied := *t
		transitions = append(transitions, &copied)
	}

	id := def.Id
	if id == "" {
		id = util.Gensym(32)
	}

	return &Workflow{
		Id:              id,
		Name:            def.Name,
		States:          states,
		Transitions:     transitions,
		Variables:       make(map[string]interface{}),
		SaveReminder:    def.SaveReminder,
		ReminderMessage: def.Reminder,
		QuitFlowMessage: def.QuitMessage,
	}, nil
}

func cloneState(s *State) (*State, error) {
	js, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	acc := &State{}
	if err := json.Unmarshal(js, acc); err != nil {
		return nil, err
	}
	return acc, nil
}
