package flow

import (
	"context"
	"strings"
)

// State kind tags.  The set of built-in kinds is closed; embedding
// applications add their own via RegisterStateType at startup, before
// any workflow runs.
const (
	Dummy                = "dummy"
	Transient            = "transient"
	QA                   = "qa"
	YesNo                = "yesno"
	Choice               = "choice"
	CheckAnswer          = "checkanswer"
	Decision             = "decision"
	PersonalizationCheck = "personalization"
	Inline               = "inline"
)

// State is one node of a workflow.  Message fields hold templates (a
// string or a template tree) resolved through the mutator at
// notification time; any of them may be nil.
type State struct {
	Id   string `json:"Id,omitempty"`
	Name string `json:"Name"`

	// Type selects the state's behavior.  Empty means QA.
	Type string `json:"Type,omitempty"`

	EnterMessage      interface{} `json:"EnterMessage,omitempty"`
	ExecuteMessage    interface{} `json:"ExecuteMessage,omitempty"`
	DeactivateMessage interface{} `json:"DeactivateMessage,omitempty"`
	AcceptMessage     interface{} `json:"AcceptMessage,omitempty"`
	RejectMessage     interface{} `json:"RejectMessage,omitempty"`

	// Variable names the workflow variable that receives this
	// state's result.  Empty means the result is discarded.
	Variable string `json:"Variable,omitempty"`

	// Parameters carries kind-specific configuration: "choices"
	// for Choice, "answer" for CheckAnswer, "expression" for
	// Decision, "check" for PersonalizationCheck, "execute" for
	// Inline.
	Parameters map[string]interface{} `json:"Parameters,omitempty"`

	IsInitial bool `json:"IsInitial,omitempty"`
	IsFinal   bool `json:"IsFinal,omitempty"`
	IsActive  bool `json:"IsActive,omitempty"`

	// Strikes counts consecutive unusable inputs, so a state can
	// give up instead of looping forever.  Persisted with the
	// snapshot.
	Strikes int `json:"Strikes,omitempty"`
}

func (s *State) kind() string {
	if s.Type == "" {
		return QA
	}
	return canon(s.Type)
}

func (s *State) parameter(name string) (interface{}, bool) {
	if s.Parameters == nil {
		return nil, false
	}
	for k, v := range s.Parameters {
		if canon(k) == canon(name) {
			return v, true
		}
	}
	return nil, false
}

func (s *State) stringParameter(name string) string {
	x, have := s.parameter(name)
	if !have {
		return ""
	}
	str, is := x.(string)
	if !is {
		return ""
	}
	return str
}

// Handler is the behavior of one state kind.
type Handler interface {
	// Automatic reports whether the state executes immediately on
	// activation, without waiting for user input.
	Automatic(w *Workflow, s *State) bool

	// Execute processes one turn of input, calling w.Accept or
	// w.Reject exactly once.
	Execute(ctx context.Context, w *Workflow, s *State, input string) error
}

// handlers is the state-kind registration table.
var handlers = map[string]Handler{
	Dummy:                &dummyHandler{},
	Transient:            &transientHandler{},
	QA:                   &qaHandler{},
	YesNo:                &yesNoHandler{},
	Choice:               &choiceHandler{},
	CheckAnswer:          &checkAnswerHandler{},
	Decision:             &decisionHandler{},
	PersonalizationCheck: &personalizationHandler{},
	Inline:               &inlineHandler{},
}

// typeAliases maps authored spellings to canonical kind tags.
var typeAliases = map[string]string{
	"yes-no":                YesNo,
	"yn":                    YesNo,
	"check-answer":          CheckAnswer,
	"personalizationcheck":  PersonalizationCheck,
	"personalization-check": PersonalizationCheck,
}

// RegisterStateType installs a handler for an application-defined
// state kind.  Call before running workflows; the table is not
// locked.
func RegisterStateType(name string, h Handler) {
	handlers[canon(name)] = h
}

func canonType(t string) string {
	t = canon(t)
	if alias, have := typeAliases[t]; have {
		return alias
	}
	return t
}

func handlerFor(s *State) (Handler, error) {
	kind := canonType(s.kind())
	h, have := handlers[kind]
	if !have {
		return nil, &UnknownStateType{kind}
	}
	return h, nil
}

// knownStateType reports whether a kind tag (or alias) is registered.
func knownStateType(t string) bool {
	if t == "" {
		return true
	}
	_, have := handlers[canonType(t)]
	return have
}

func normalizeYes(input string) bool {
	switch canon(input) {
	case "yes", "y", "yep", "yeah", "sure", "ok", "okay", "ja":
		return true
	}
	return false
}

func normalizeNo(input string) bool {
	switch canon(input) {
	case "no", "n", "nope", "nah", "nee":
		return true
	}
	return false
}

func trimmed(input string) string {
	return strings.TrimSpace(input)
}
