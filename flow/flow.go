// Package flow implements the persisted, multi-turn dialogue state
// machine ("workflow").
//
// A workflow collects structured input across turns: each turn's
// input drives the active state through its lifecycle (execute,
// accept or reject, transition), every message template is resolved
// through the template mutator, and a full snapshot is persisted
// after every step so the next turn can reload the workflow verbatim.
//
// A Workflow instance is single-writer: it holds mutable in-process
// state with no internal lock, so concurrent turns for the same
// workflow id must be serialized by the caller.  Persistence is
// read-modify-write without compare-and-swap.
package flow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Qwiery/qwiery-sub001/expr"
	"github.com/Qwiery/qwiery-sub001/mutate"
	"github.com/Qwiery/qwiery-sub001/util"
)

// DoneSentinel is stored as a final state's variable value.
const DoneSentinel = "Done"

// DefaultQuitVocabulary detects quit intent when no QuitDetector is
// supplied.
var DefaultQuitVocabulary = []string{
	"quit", "stop", "exit", "cancel", "forget it", "never mind",
}

// Workflow is a loadable, serializable finite state machine.
//
// At most one state is active at a time; exactly one state is
// initial; if any states exist, at least one is final.
type Workflow struct {
	Id   string `json:"Id"`
	Name string `json:"Name"`

	States      []*State      `json:"States"`
	Transitions []*Transition `json:"Transitions"`

	CurrentStateName  string `json:"CurrentState"`
	PreviousStateName string `json:"PreviousState"`

	Variables map[string]interface{} `json:"Variables"`

	IsActive    bool       `json:"IsActive"`
	IsSuspended Suspension `json:"IsSuspended"`
	Quit        bool       `json:"Quit"`

	Timestamp string `json:"Timestamp,omitempty"`

	// QuitFlowMessage is said when the flow is quit outright.
	QuitFlowMessage string `json:"QuitMessage,omitempty"`

	// SaveReminder suspends a quit flow "undecided" instead of
	// deleting it, pending an explicit keep/discard decision.
	SaveReminder    bool   `json:"SaveReminder,omitempty"`
	ReminderMessage string `json:"Reminder,omitempty"`

	// Effects collects names of side effects run by transient
	// states, for diagnostics.
	Effects []string `json:"Effects,omitempty"`

	// Repo persists snapshots.  Optional: a nil Repo makes every
	// persist a no-op.
	Repo Repository `json:"-"`

	// Context supplies capabilities for message resolution.
	// Supplied fresh per turn by the caller; never persisted.
	Context *mutate.Context `json:"-"`

	// QuitDetector recognizes quit intent in raw input.  When
	// nil, DefaultQuitVocabulary is used.
	QuitDetector func(input string) bool `json:"-"`

	listeners []Listener

	// autoHops bounds chains of automatic states within one turn.
	autoHops int
}

// maxAutoHops bounds how many automatic states may run back to back
// in a single turn, so a cycle of decision or transient states can't
// spin forever.
const maxAutoHops = 32

// Repository is the workflow-store contract this package consumes.
type Repository interface {
	Upsert(ctx context.Context, s *Snapshot) error
	Delete(ctx context.Context, id string) error
	ById(ctx context.Context, id string) (*Snapshot, error)

	// Suspended returns the snapshots of suspended workflows.
	Suspended(ctx context.Context) ([]*Snapshot, error)

	// Library items are named reusable workflow definitions.
	UpsertLibraryItem(ctx context.Context, name string, def *Definition) error
	LibraryItem(ctx context.Context, name string) (*Definition, error)
	RemoveLibraryItem(ctx context.Context, name string) error
	LibraryItems(ctx context.Context) ([]string, error)
}

// canon normalizes an identifier for case-insensitive lookups.
func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AddListener appends a lifecycle listener.  Listeners are notified
// in registration order.
func (w *Workflow) AddListener(l Listener) {
	w.listeners = append(w.listeners, l)
}

// RemoveListener removes a previously added listener.
func (w *Workflow) RemoveListener(l Listener) {
	acc := make([]Listener, 0, len(w.listeners))
	for _, x := range w.listeners {
		if x != l {
			acc = append(acc, x)
		}
	}
	w.listeners = acc
}

func (w *Workflow) state(name string) *State {
	for _, s := range w.States {
		if canon(s.Name) == canon(name) {
			return s
		}
	}
	return nil
}

// Current returns the active state (by CurrentStateName).
func (w *Workflow) Current() *State {
	return w.state(w.CurrentStateName)
}

func (w *Workflow) initial() *State {
	for _, s := range w.States {
		if s.IsInitial {
			return s
		}
	}
	return nil
}

// resolve renders a message template through the mutator, with the
// workflow's variables visible.
func (w *Workflow) resolve(ctx context.Context, template interface{}) (string, error) {
	if template == nil {
		return "", nil
	}
	mc := &mutate.Context{}
	if w.Context != nil {
		copied := *w.Context
		mc = &copied
	}
	vars := make(map[string]interface{}, len(mc.Variables)+len(w.Variables))
	for k, v := range mc.Variables {
		vars[k] = v
	}
	for k, v := range w.Variables {
		vars[k] = v
	}
	mc.Variables = vars
	outer := mc.GetVariable
	mc.GetVariable = func(name string) (interface{}, bool) {
		if x, have := vars[name]; have {
			return x, true
		}
		if outer != nil {
			return outer(name)
		}
		return nil, false
	}
	return mutate.Resolve(ctx, template, mc)
}

// eval evaluates an expression with the workflow's variables as the
// context.
func (w *Workflow) eval(ctx context.Context, src string) (interface{}, error) {
	e := expressionEvaluator(w)
	if e == nil {
		return nil, &BadDefinition{w.Name, "no evaluator"}
	}
	return e.Eval(ctx, src, w.Variables)
}

func expressionEvaluator(w *Workflow) expr.Evaluator {
	if w.Context != nil && w.Context.Evaluator != nil {
		return w.Context.Evaluator
	}
	return expr.DefaultEvaluators["goja"]
}

func (w *Workflow) store(s *State, x interface{}) {
	if s.Variable == "" {
		return
	}
	if w.Variables == nil {
		w.Variables = make(map[string]interface{})
	}
	w.Variables[s.Variable] = x
}

func (w *Workflow) persist(ctx context.Context) error {
	if w.Repo == nil {
		return nil
	}
	w.Timestamp = util.Timestamp()
	return w.Repo.Upsert(ctx, w.Snapshot())
}

func (w *Workflow) delete(ctx context.Context) error {
	if w.Repo == nil {
		return nil
	}
	return w.Repo.Delete(ctx, w.Id)
}

// quits reports quit intent in raw input.
func (w *Workflow) quits(input string) bool {
	if w.QuitDetector != nil {
		return w.QuitDetector(input)
	}
	in := canon(input)
	for _, q := range DefaultQuitVocabulary {
		if in == q {
			return true
		}
	}
	return false
}

// Start activates the initial state (firing its activation
// notification), runs any automatic states, and persists.
func (w *Workflow) Start(ctx context.Context) error {
	s := w.initial()
	if s == nil {
		return &BadDefinition{w.Name, "no initial state"}
	}
	w.autoHops = 0
	if err := w.activate(ctx, s, true); err != nil {
		return err
	}
	if err := w.runAutomatic(ctx, s); err != nil {
		return err
	}
	if !w.IsActive {
		// Finalized immediately (a lone initial+final state).
		return nil
	}
	return w.persist(ctx)
}

// activate marks the state active and (if raiseEvent) resolves its
// enter message and notifies the activation listeners.
//
// Reloading a persisted workflow reactivates the stored current state
// with raiseEvent false, which avoids duplicate messages on
// rehydration.
func (w *Workflow) activate(ctx context.Context, s *State, raiseEvent bool) error {
	for _, other := range w.States {
		other.IsActive = false
	}
	s.IsActive = true
	w.IsActive = true
	if canon(w.CurrentStateName) != canon(s.Name) {
		w.PreviousStateName = w.CurrentStateName
		w.CurrentStateName = s.Name
	}

	if !raiseEvent {
		return nil
	}
	msg, err := w.resolve(ctx, s.EnterMessage)
	if err != nil {
		return err
	}
	for _, l := range w.listeners {
		l.OnActivate(s.Name, msg)
	}
	return nil
}

// runAutomatic executes the current state immediately if its kind
// needs no user input (or if the state is final).
func (w *Workflow) runAutomatic(ctx context.Context, s *State) error {
	if !w.IsActive || !s.IsActive {
		return nil
	}
	h, err := handlerFor(s)
	if err != nil {
		return err
	}
	if !s.IsFinal && !h.Automatic(w, s) {
		return nil
	}
	w.autoHops++
	if maxAutoHops < w.autoHops {
		return &BadDefinition{w.Name, "automatic state loop"}
	}
	return w.executeState(ctx, s, "")
}

// Execute processes one turn of input against the active state.
func (w *Workflow) Execute(ctx context.Context, input string) error {
	if !w.IsActive {
		return &Inactive{w.Id}
	}
	w.autoHops = 0
	if w.quits(input) {
		return w.handleQuit(ctx)
	}
	s := w.Current()
	if s == nil {
		return &BadDefinition{w.Name, `current state "` + w.CurrentStateName + `" not found`}
	}
	return w.executeState(ctx, s, input)
}

func (w *Workflow) executeState(ctx context.Context, s *State, input string) error {
	h, err := handlerFor(s)
	if err != nil {
		return err
	}
	return h.Execute(ctx, w, s, input)
}

// executeNotify stores the state's result, resolves its execute
// message, and notifies the execution listeners.
//
// A final state stores the sentinel DoneSentinel instead of input.
func (w *Workflow) executeNotify(ctx context.Context, s *State, value interface{}) error {
	if s.IsFinal {
		value = DoneSentinel
	}
	w.store(s, value)
	msg, err := w.resolve(ctx, s.ExecuteMessage)
	if err != nil {
		return err
	}
	for _, l := range w.listeners {
		l.OnExecute(s.Name, msg)
	}
	return nil
}

// Accept notifies the acceptance listeners and follows the
// transition selected by transitionValue (with a "*" catch-all
// fallback), deactivating the current state and activating the
// target.  A final state finalizes the workflow instead.  A target
// that is itself final (or automatic) executes immediately.
func (w *Workflow) Accept(ctx context.Context, s *State, transitionValue string) error {
	msg, err := w.resolve(ctx, s.AcceptMessage)
	if err != nil {
		return err
	}
	for _, l := range w.listeners {
		l.OnAccept(s.Name, msg)
	}

	if s.IsFinal {
		s.IsActive = false
		w.IsActive = false
		w.Timestamp = util.Timestamp()
		return w.delete(ctx)
	}

	tr := findTransition(w.Transitions, s.Name, transitionValue)
	if tr == nil {
		return &NoTransition{s.Name, transitionValue}
	}

	// Deactivate the current state.
	s.IsActive = false
	dmsg, err := w.resolve(ctx, s.DeactivateMessage)
	if err != nil {
		return err
	}
	for _, l := range w.listeners {
		l.OnDeactivate(s.Name, dmsg)
	}

	target := w.state(tr.To)
	if target == nil {
		return &BadDefinition{w.Name, `transition target "` + tr.To + `" not found`}
	}

	if err := w.activate(ctx, target, true); err != nil {
		return err
	}
	if err := w.runAutomatic(ctx, target); err != nil {
		return err
	}

	if !w.IsActive {
		// The target finalized the workflow; it's already
		// deleted from the store.
		return nil
	}
	return w.persist(ctx)
}

// Reject notifies the rejection listeners and persists without
// transitioning: the same state remains active.  An inactive
// (abandoned) workflow is deleted instead.
func (w *Workflow) Reject(ctx context.Context, s *State, reason string) error {
	msg, err := w.resolve(ctx, s.RejectMessage)
	if err != nil {
		return err
	}
	if msg == "" {
		msg = reason
	}
	for _, l := range w.listeners {
		l.OnReject(s.Name, msg)
	}
	if !w.IsActive {
		return w.delete(ctx)
	}
	return w.persist(ctx)
}

// abandon gives up on the flow (e.g. after repeated unparseable
// input) rather than looping indefinitely.
func (w *Workflow) abandon(ctx context.Context, s *State, reason string) error {
	w.IsActive = false
	s.IsActive = false
	return w.Reject(ctx, s, reason)
}

// handleQuit handles a quit-intent input: the flow is deleted, or --
// when configured to remind later -- suspended pending an explicit
// yes/no about whether to keep it.
func (w *Workflow) handleQuit(ctx context.Context) error {
	w.Quit = true

	if w.SaveReminder {
		w.IsSuspended = Undecided
		for _, l := range w.listeners {
			l.OnQuit(w.ReminderMessage)
		}
		return w.persist(ctx)
	}

	w.IsActive = false
	for _, l := range w.listeners {
		l.OnQuit(w.QuitFlowMessage)
	}
	return w.delete(ctx)
}

// DecideSuspension resolves the pending keep/discard question of a
// workflow suspended "undecided".
func (w *Workflow) DecideSuspension(ctx context.Context, keep bool) error {
	if !keep {
		w.IsActive = false
		w.IsSuspended = NotSuspended
		return w.delete(ctx)
	}
	w.IsSuspended = Suspended
	w.Quit = false
	return w.persist(ctx)
}

// Resume reactivates a suspended workflow without re-firing the
// current state's activation notification.
func (w *Workflow) Resume(ctx context.Context) error {
	s := w.Current()
	if s == nil {
		return &BadDefinition{w.Name, "nothing to resume"}
	}
	w.IsSuspended = NotSuspended
	w.Quit = false
	if err := w.activate(ctx, s, false); err != nil {
		return err
	}
	return w.persist(ctx)
}

// Snapshot produces the full serializable state of the workflow.
func (w *Workflow) Snapshot() *Snapshot {
	js, _ := json.Marshal(w)
	acc := &Snapshot{}
	_ = json.Unmarshal(js, acc)
	return acc
}

// ToJSON serializes the workflow's snapshot.
func (w *Workflow) ToJSON() ([]byte, error) {
	return json.Marshal(w.Snapshot())
}
