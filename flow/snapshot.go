package flow

import (
	"bytes"
	"context"
	"encoding/json"
)

// Suspension is the tri-state suspension flag: not suspended,
// suspended, or suspended pending a keep/discard decision.
//
// Serializes as false, true, or "undecided" respectively.
type Suspension int

const (
	NotSuspended Suspension = iota
	Suspended
	Undecided
)

func (s Suspension) MarshalJSON() ([]byte, error) {
	switch s {
	case Suspended:
		return []byte("true"), nil
	case Undecided:
		return []byte(`"undecided"`), nil
	default:
		return []byte("false"), nil
	}
}

func (s *Suspension) UnmarshalJSON(bs []byte) error {
	switch {
	case bytes.Equal(bs, []byte("true")):
		*s = Suspended
	case bytes.Equal(bs, []byte("false")), bytes.Equal(bs, []byte("null")):
		*s = NotSuspended
	default:
		var str string
		if err := json.Unmarshal(bs, &str); err != nil {
			return err
		}
		if canon(str) == "undecided" {
			*s = Undecided
		} else {
			*s = NotSuspended
		}
	}
	return nil
}

// Snapshot is the full persisted form of a workflow: everything
// needed to reload it verbatim on a later turn.  Listeners,
// capability contexts, and repositories are deliberately absent.
type Snapshot struct {
	Id   string `json:"Id"`
	Name string `json:"Name"`

	States      []*State      `json:"States"`
	Transitions []*Transition `json:"Transitions"`

	CurrentState  string `json:"CurrentState"`
	PreviousState string `json:"PreviousState"`

	Variables map[string]interface{} `json:"Variables"`

	IsActive    bool       `json:"IsActive"`
	IsSuspended Suspension `json:"IsSuspended"`
	Quit        bool       `json:"Quit,omitempty"`

	Timestamp string `json:"Timestamp,omitempty"`

	QuitMessage  string   `json:"QuitMessage,omitempty"`
	SaveReminder bool     `json:"SaveReminder,omitempty"`
	Reminder     string   `json:"Reminder,omitempty"`
	Effects      []string `json:"Effects,omitempty"`
}

// FromSnapshot rehydrates a workflow.  The stored current state is
// reactivated without firing its activation notification, so
// reloading never repeats messages.
func FromSnapshot(snap *Snapshot) (*Workflow, error) {
	w := &Workflow{
		Id:                snap.Id,
		Name:              snap.Name,
		States:            snap.States,
		Transitions:       snap.Transitions,
		CurrentStateName:  snap.CurrentState,
		PreviousStateName: snap.PreviousState,
		Variables:         snap.Variables,
		IsActive:          snap.IsActive,
		IsSuspended:       snap.IsSuspended,
		Quit:              snap.Quit,
		Timestamp:         snap.Timestamp,
		QuitFlowMessage:   snap.QuitMessage,
		SaveReminder:      snap.SaveReminder,
		ReminderMessage:   snap.Reminder,
		Effects:           snap.Effects,
	}
	if w.Variables == nil {
		w.Variables = make(map[string]interface{})
	}
	if err := Validate(w.Name, w.States, w.Transitions); err != nil {
		return nil, err
	}
	if w.IsActive && w.CurrentStateName != "" {
		s := w.state(w.CurrentStateName)
		if s == nil {
			return nil, &BadDefinition{w.Name, `current state "` + w.CurrentStateName + `" not found`}
		}
		if err := w.activate(context.Background(), s, false); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Load deserializes a snapshot and rehydrates the workflow.
func Load(bs []byte) (*Workflow, error) {
	snap := &Snapshot{}
	if err := json.Unmarshal(bs, snap); err != nil {
		return nil, err
	}
	return FromSnapshot(snap)
}
