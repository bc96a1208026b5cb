package flow

// Listener observes workflow lifecycle notifications.  Listeners are
// transient and caller-owned: they are never serialized, and a
// reloaded workflow starts with none.
type Listener interface {
	OnActivate(state, message string)
	OnExecute(state, message string)
	OnAccept(state, message string)
	OnReject(state, message string)
	OnDeactivate(state, message string)
	OnQuit(message string)
}

// Event is one recorded lifecycle notification.
type Event struct {
	Kind    string
	State   string
	Message string
}

// Spy records every notification it receives, in order.  Handy in
// tests and as the per-turn output collector.
type Spy struct {
	Events []Event
}

func (s *Spy) record(kind, state, message string) {
	s.Events = append(s.Events, Event{kind, state, message})
}

func (s *Spy) OnActivate(state, message string)   { s.record("activate", state, message) }
func (s *Spy) OnExecute(state, message string)    { s.record("execute", state, message) }
func (s *Spy) OnAccept(state, message string)     { s.record("accept", state, message) }
func (s *Spy) OnReject(state, message string)     { s.record("reject", state, message) }
func (s *Spy) OnDeactivate(state, message string) { s.record("deactivate", state, message) }
func (s *Spy) OnQuit(message string)              { s.record("quit", "", message) }

// Visited returns the activated state names in order.
func (s *Spy) Visited() []string {
	var acc []string
	for _, e := range s.Events {
		if e.Kind == "activate" {
			acc = append(acc, e.State)
		}
	}
	return acc
}

// Messages returns every non-empty message in order, which is the
// flow's user-visible output for the turn.
func (s *Spy) Messages() []string {
	var acc []string
	for _, e := range s.Events {
		if e.Message != "" {
			acc = append(acc, e.Message)
		}
	}
	return acc
}
