// Package engine ties the pieces together per session: input goes
// through the redirection resolver and the template mutator, answers
// that carry a workflow start (or continue) a dialogue state machine,
// and turns for one session run strictly one at a time.
package engine

import (
	"context"
	"sync"

	"github.com/Qwiery/qwiery-sub001/flow"
	"github.com/Qwiery/qwiery-sub001/match"
	"github.com/Qwiery/qwiery-sub001/mutate"
	"github.com/Qwiery/qwiery-sub001/rules"
	"github.com/Qwiery/qwiery-sub001/util"
)

// Engine answers utterances for many sessions against one rule
// repository and one workflow repository.
type Engine struct {
	Rules rules.Repository
	Flows flow.Repository

	// Context is the capability prototype.  It is copied per turn
	// with the turn's wildcard values merged into Variables.
	Context *mutate.Context

	// MaximumRedirections caps redirect chains.  Zero means
	// rules.DefaultMaximumRedirections.
	MaximumRedirections int

	mu       sync.Mutex
	sessions map[string]*session
}

// session serializes the turns of one user and tracks that user's
// running workflow.
type session struct {
	mu sync.Mutex

	// flowId is the running workflow, if any.
	flowId string

	// pending is a workflow suspended "undecided": the next input
	// answers the keep/discard question.
	pending string
}

// Result is one turn's outcome.
type Result struct {
	// Output is the ordered user-visible messages.
	Output []string

	// Stack is the resolution trace for a rules turn.
	Stack rules.Stack

	// FlowId names the workflow that handled (or started during)
	// the turn.
	FlowId string

	// Handled is false when nothing matched, so the caller can
	// fall back however it likes.
	Handled bool
}

// New makes an engine over the given repositories.
func New(ruleRepo rules.Repository, flowRepo flow.Repository) *Engine {
	return &Engine{
		Rules:    ruleRepo,
		Flows:    flowRepo,
		sessions: make(map[string]*session),
	}
}

func (e *Engine) sessionFor(userId string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions == nil {
		e.sessions = make(map[string]*session)
	}
	key := rules.Canon(userId)
	ses, have := e.sessions[key]
	if !have {
		ses = &session{}
		e.sessions[key] = ses
	}
	return ses
}

// Ask runs one turn: workflow input when a workflow is running (or a
// keep/discard decision is pending), rule resolution otherwise.
func (e *Engine) Ask(ctx context.Context, sess *rules.Session, input string) (*Result, error) {
	if sess == nil {
		sess = &rules.Session{UserId: rules.Everyone}
	}
	ses := e.sessionFor(sess.UserId)
	ses.mu.Lock()
	defer ses.mu.Unlock()

	if ses.pending != "" {
		return e.decideSuspension(ctx, ses, input)
	}
	if ses.flowId != "" {
		res, routed, err := e.flowTurn(ctx, sess, ses, input)
		if err != nil {
			return nil, err
		}
		if routed {
			return res, nil
		}
		// The stored workflow is gone; fall through to rules.
	}
	return e.rulesTurn(ctx, sess, ses, input)
}

func (e *Engine) flowTurn(ctx context.Context, sess *rules.Session, ses *session, input string) (*Result, bool, error) {
	snap, err := e.Flows.ById(ctx, ses.flowId)
	if err != nil {
		return nil, false, err
	}
	if snap == nil {
		ses.flowId = ""
		return nil, false, nil
	}

	w, err := flow.FromSnapshot(snap)
	if err != nil {
		return nil, false, err
	}
	w.Repo = e.Flows
	w.Context = e.turnContext(sess, nil)
	spy := &flow.Spy{}
	w.AddListener(spy)

	if err := w.Execute(ctx, input); err != nil {
		return nil, false, err
	}

	res := &Result{
		Output:  spy.Messages(),
		FlowId:  w.Id,
		Handled: true,
	}
	switch {
	case w.IsSuspended == flow.Undecided:
		ses.flowId = ""
		ses.pending = w.Id
	case !w.IsActive || w.IsSuspended != flow.NotSuspended:
		ses.flowId = ""
	}
	return res, true, nil
}

// decideSuspension takes the pending keep/discard answer for a
// workflow that quit with a save reminder.
func (e *Engine) decideSuspension(ctx context.Context, ses *session, input string) (*Result, error) {
	id := ses.pending
	ses.pending = ""

	snap, err := e.Flows.ById(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return &Result{Handled: true}, nil
	}
	w, err := flow.FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	w.Repo = e.Flows

	keep := yesish(input)
	if err := w.DecideSuspension(ctx, keep); err != nil {
		return nil, err
	}
	msg := "Okay, I dropped it."
	if keep {
		msg = "Okay, I'll keep it for later."
	}
	return &Result{
		Output:  []string{msg},
		FlowId:  id,
		Handled: true,
	}, nil
}

func (e *Engine) rulesTurn(ctx context.Context, sess *rules.Session, ses *session, input string) (*Result, error) {
	resolver := &rules.Resolver{
		Repo:                e.Rules,
		MaximumRedirections: e.MaximumRedirections,
	}
	stack := make(rules.Stack, 0, 4)
	if err := resolver.AskUntilDone(ctx, input, &stack, sess, false); err != nil {
		return nil, err
	}
	if len(stack) == 0 {
		return &Result{Stack: stack}, nil
	}

	top := stack[0]
	if _, is := top.Template.Redirect(); is {
		// The chain dead-ended on an unresolved redirect.
		return &Result{Stack: stack}, nil
	}
	mc := e.turnContext(sess, top.Wildcards)

	if top.Template != nil && top.Template.Think != nil {
		// Side effects only; the result is discarded.
		if _, err := mutate.Mutate(ctx, top.Template.Think, mc); err != nil {
			return nil, err
		}
	}

	if wf, have := workflowAnswer(top.Template); have {
		return e.startFlow(ctx, sess, ses, wf, stack)
	}

	out, err := mutate.Resolve(ctx, top.Template.Answer, mc)
	if err != nil {
		return nil, err
	}
	return &Result{
		Output:  []string{out},
		Stack:   stack,
		Handled: true,
	}, nil
}

// workflowAnswer detects an answer that starts a workflow: a map with
// a "workflow" key (case-insensitively), whose value is an inline
// definition tree or a library-item name.
func workflowAnswer(t *rules.Template) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	m, is := t.Answer.(map[string]interface{})
	if !is {
		return nil, false
	}
	for k, v := range m {
		if rules.Canon(k) == "workflow" {
			return v, true
		}
	}
	return nil, false
}

func (e *Engine) startFlow(ctx context.Context, sess *rules.Session, ses *session, wf interface{}, stack rules.Stack) (*Result, error) {
	var (
		def *flow.Definition
		err error
	)
	switch v := wf.(type) {
	case map[string]interface{}:
		def, err = flow.FromDocument(v)
	case string:
		def, err = e.Flows.LibraryItem(ctx, v)
		if err == nil && def == nil {
			err = &NoSuchFlow{v}
		}
	default:
		err = &NoSuchFlow{""}
	}
	if err != nil {
		return nil, err
	}

	w, err := flow.NewWorkflow(def)
	if err != nil {
		return nil, err
	}
	// Fresh instance per session, even from a shared definition.
	w.Id = util.Gensym(32)
	w.Repo = e.Flows
	w.Context = e.turnContext(sess, stack[0].Wildcards)
	spy := &flow.Spy{}
	w.AddListener(spy)

	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	if w.IsActive {
		ses.flowId = w.Id
	}
	return &Result{
		Output:  spy.Messages(),
		Stack:   stack,
		FlowId:  w.Id,
		Handled: true,
	}, nil
}

// turnContext copies the capability prototype and merges the turn's
// wildcard values into it.
func (e *Engine) turnContext(sess *rules.Session, wildcards []match.Wildcard) *mutate.Context {
	mc := &mutate.Context{}
	if e.Context != nil {
		copied := *e.Context
		mc = &copied
	}
	if sess != nil && sess.Language != "" {
		mc.Language = sess.Language
	}

	vars := make(map[string]interface{}, len(mc.Variables)+len(wildcards))
	for k, v := range mc.Variables {
		vars[k] = v
	}
	for _, wc := range wildcards {
		vars[wc.Name] = wc.Value
	}
	mc.Variables = vars

	if mc.GetWildcard == nil {
		mc.GetWildcard = func(index string) (interface{}, bool) {
			for _, wc := range wildcards {
				if wc.Name == index {
					return wc.Value, true
				}
			}
			return nil, false
		}
	}
	return mc
}

// Learn adds one rule through the authoring path.
func (e *Engine) Learn(ctx context.Context, item *rules.Item) error {
	return rules.Learn(ctx, e.Rules, item)
}

// LearnDocument loads a YAML or JSON rule document and learns every
// item in it.  Returns how many items were added.
func (e *Engine) LearnDocument(ctx context.Context, bs []byte) (int, error) {
	items, err := rules.ParseItems(bs)
	if err != nil {
		return 0, err
	}
	for i, item := range items {
		if err := rules.Learn(ctx, e.Rules, item); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

// Suspended lists the suspended workflows.
func (e *Engine) Suspended(ctx context.Context) ([]*flow.Snapshot, error) {
	return e.Flows.Suspended(ctx)
}

// Resume reactivates a suspended workflow for the session, without
// repeating the current state's entry message.
func (e *Engine) Resume(ctx context.Context, sess *rules.Session, id string) (*Result, error) {
	if sess == nil {
		sess = &rules.Session{UserId: rules.Everyone}
	}
	ses := e.sessionFor(sess.UserId)
	ses.mu.Lock()
	defer ses.mu.Unlock()

	snap, err := e.Flows.ById(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &NoSuchFlow{id}
	}
	w, err := flow.FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	w.Repo = e.Flows
	w.Context = e.turnContext(sess, nil)
	if err := w.Resume(ctx); err != nil {
		return nil, err
	}
	ses.flowId = w.Id
	return &Result{
		Output:  []string{"Picking up where we left off."},
		FlowId:  w.Id,
		Handled: true,
	}, nil
}

// Discard deletes a suspended workflow.
func (e *Engine) Discard(ctx context.Context, id string) error {
	return e.Flows.Delete(ctx, id)
}

// StartFlow starts a library workflow by name for the session.
func (e *Engine) StartFlow(ctx context.Context, sess *rules.Session, name string) (*Result, error) {
	if sess == nil {
		sess = &rules.Session{UserId: rules.Everyone}
	}
	ses := e.sessionFor(sess.UserId)
	ses.mu.Lock()
	defer ses.mu.Unlock()

	stack := rules.Stack{&rules.StackItem{}}
	return e.startFlow(ctx, sess, ses, name, stack)
}

func yesish(input string) bool {
	switch rules.Canon(input) {
	case "yes", "y", "yep", "yeah", "sure", "ok", "okay", "keep", "keep it":
		return true
	}
	return false
}

// NoSuchFlow indicates a workflow (or library item) that isn't in the
// store.
type NoSuchFlow struct {
	Name string
}

func (e *NoSuchFlow) Error() string {
	return `no workflow "` + e.Name + `"`
}
