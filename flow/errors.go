package flow

// BadDefinition indicates a structurally invalid workflow.
type BadDefinition struct {
	Name   string
	Reason string
}

func (e *BadDefinition) Error() string {
	return `bad workflow "` + e.Name + `": ` + e.Reason
}

// NoTransition indicates that no edge (not even a catch-all) matched
// an acceptance value.
type NoTransition struct {
	State string
	Value string
}

func (e *NoTransition) Error() string {
	return `no transition from "` + e.State + `" for "` + e.Value + `"`
}

// UnknownStateType indicates a state kind with no registered handler.
type UnknownStateType struct {
	Type string
}

func (e *UnknownStateType) Error() string {
	return `unknown state type "` + e.Type + `"`
}

// Inactive indicates input delivered to a workflow that is not
// running.
type Inactive struct {
	Id string
}

func (e *Inactive) Error() string {
	return `workflow "` + e.Id + `" is not active`
}
