package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/Qwiery/qwiery-sub001/mutate"

	_ "github.com/Qwiery/qwiery-sub001/expr/goja"
)

// memFlowRepo is an in-memory Repository for tests.
type memFlowRepo struct {
	snaps   map[string]*Snapshot
	library map[string]*Definition
}

func newMemFlowRepo() *memFlowRepo {
	return &memFlowRepo{
		snaps:   make(map[string]*Snapshot),
		library: make(map[string]*Definition),
	}
}

func (r *memFlowRepo) Upsert(ctx context.Context, s *Snapshot) error {
	r.snaps[s.Id] = s
	return nil
}

func (r *memFlowRepo) Delete(ctx context.Context, id string) error {
	delete(r.snaps, id)
	return nil
}

func (r *memFlowRepo) ById(ctx context.Context, id string) (*Snapshot, error) {
	return r.snaps[id], nil
}

func (r *memFlowRepo) Suspended(ctx context.Context) ([]*Snapshot, error) {
	var acc []*Snapshot
	for _, s := range r.snaps {
		if s.IsSuspended != NotSuspended {
			acc = append(acc, s)
		}
	}
	return acc, nil
}

func (r *memFlowRepo) UpsertLibraryItem(ctx context.Context, name string, def *Definition) error {
	r.library[canon(name)] = def
	return nil
}

func (r *memFlowRepo) LibraryItem(ctx context.Context, name string) (*Definition, error) {
	return r.library[canon(name)], nil
}

func (r *memFlowRepo) RemoveLibraryItem(ctx context.Context, name string) error {
	delete(r.library, canon(name))
	return nil
}

func (r *memFlowRepo) LibraryItems(ctx context.Context) ([]string, error) {
	var acc []string
	for name := range r.library {
		acc = append(acc, name)
	}
	return acc, nil
}

func lineDef(t *testing.T) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(`
name: line
states:
  A:
    initial: true
  B:
  C:
    final: true
transitions:
  - A->B
  - B->C
`))
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func TestWorkflowVisitsStatesInOrder(t *testing.T) {
	ctx := context.Background()

	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	spy := &Spy{}
	w.AddListener(spy)

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, input := range []string{"begin", "first", "second"} {
		if !w.IsActive {
			break
		}
		if err := w.Execute(ctx, input); err != nil {
			t.Fatal(err)
		}
	}

	visited := spy.Visited()
	want := []string{"A", "B", "C"}
	if len(visited) != len(want) {
		t.Fatalf("visited %#v", visited)
	}
	for i, name := range want {
		if visited[i] != name {
			t.Fatalf("visited %#v", visited)
		}
	}
	if w.IsActive {
		t.Fatal("still active")
	}
}

func TestChoiceStoresChosenOption(t *testing.T) {
	ctx := context.Background()

	w := &Workflow{
		Id:   "lunch",
		Name: "lunch",
		States: []*State{
			{
				Name:      "pick",
				Type:      Choice,
				IsInitial: true,
				Variable:  "food",
				Parameters: map[string]interface{}{
					"choices": []interface{}{"fruit", "vegetables", "meat"},
				},
			},
			{Name: "done", IsFinal: true},
		},
		Transitions: []*Transition{
			{From: "pick", To: "done", Value: CatchAll},
		},
		Variables: make(map[string]interface{}),
	}

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	if x := w.Variables["food"]; x != "1" {
		t.Fatalf("food: %#v", x)
	}
	if x := w.Variables["food_value"]; x != "fruit" {
		t.Fatalf("food_value: %#v", x)
	}
	if w.IsActive {
		t.Fatal("still active")
	}
}

func TestChoiceByLiteralOption(t *testing.T) {
	ctx := context.Background()

	w := &Workflow{
		Id:   "lunch",
		Name: "lunch",
		States: []*State{
			{
				Name:      "pick",
				Type:      Choice,
				IsInitial: true,
				Variable:  "food",
				Parameters: map[string]interface{}{
					"choices": []interface{}{"fruit", "vegetables", "meat"},
				},
			},
			{Name: "done", IsFinal: true},
		},
		Transitions: []*Transition{
			{From: "pick", To: "done", Value: CatchAll},
		},
		Variables: make(map[string]interface{}),
	}

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "MEAT"); err != nil {
		t.Fatal(err)
	}
	if x := w.Variables["food_value"]; x != "meat" {
		t.Fatalf("food_value: %#v", x)
	}
}

func TestRoundTripDoesNotReactivate(t *testing.T) {
	ctx := context.Background()

	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "begin"); err != nil {
		t.Fatal(err)
	}
	w.Variables["likes"] = "chess"

	js, err := w.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(js)
	if err != nil {
		t.Fatal(err)
	}
	spy := &Spy{}
	loaded.AddListener(spy)

	if loaded.CurrentStateName != w.CurrentStateName {
		t.Fatalf("current: %s", loaded.CurrentStateName)
	}
	if loaded.PreviousStateName != w.PreviousStateName {
		t.Fatalf("previous: %s", loaded.PreviousStateName)
	}
	if loaded.IsActive != w.IsActive {
		t.Fatal("IsActive changed")
	}
	if x := loaded.Variables["likes"]; x != "chess" {
		t.Fatalf("variables: %#v", loaded.Variables)
	}
	if 0 < len(spy.Events) {
		t.Fatalf("reload raised events: %#v", spy.Events)
	}

	// The reloaded flow keeps running from where it stopped.
	if err := loaded.Execute(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if loaded.IsActive {
		t.Fatal("still active")
	}
}

func TestMessageResolution(t *testing.T) {
	ctx := context.Background()

	def, err := ParseDefinition([]byte(`
name: intro
states:
  ask:
    initial: true
    variable: name
    enter: What's your name?
  greet:
    final: true
    enter: "Hello %name"
transitions:
  - ask->greet
`))
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWorkflow(def)
	if err != nil {
		t.Fatal(err)
	}
	spy := &Spy{}
	w.AddListener(spy)

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "Ada"); err != nil {
		t.Fatal(err)
	}

	var greeting string
	for _, e := range spy.Events {
		if e.Kind == "activate" && e.State == "greet" {
			greeting = e.Message
		}
	}
	if greeting != "Hello Ada" {
		t.Fatalf("greeting: %q", greeting)
	}
}

func TestQuitDeletesFlow(t *testing.T) {
	ctx := context.Background()
	repo := newMemFlowRepo()

	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	w.Repo = repo
	w.QuitFlowMessage = "Fine, dropping it."
	spy := &Spy{}
	w.AddListener(spy)

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, have := repo.snaps[w.Id]; !have {
		t.Fatal("not persisted")
	}

	if err := w.Execute(ctx, "quit"); err != nil {
		t.Fatal(err)
	}
	if w.IsActive {
		t.Fatal("still active")
	}
	if _, have := repo.snaps[w.Id]; have {
		t.Fatal("not deleted")
	}

	msgs := spy.Messages()
	if len(msgs) == 0 || msgs[len(msgs)-1] != "Fine, dropping it." {
		t.Fatalf("messages: %#v", msgs)
	}
}

func TestQuitWithReminderSuspendsUndecided(t *testing.T) {
	ctx := context.Background()
	repo := newMemFlowRepo()

	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	w.Repo = repo
	w.SaveReminder = true
	w.ReminderMessage = "Want me to keep this for later?"

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "stop"); err != nil {
		t.Fatal(err)
	}

	if w.IsSuspended != Undecided {
		t.Fatalf("suspension: %v", w.IsSuspended)
	}
	suspended, err := repo.Suspended(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(suspended) != 1 {
		t.Fatalf("suspended: %#v", suspended)
	}

	// Keep it.
	if err := w.DecideSuspension(ctx, true); err != nil {
		t.Fatal(err)
	}
	if w.IsSuspended != Suspended {
		t.Fatalf("suspension: %v", w.IsSuspended)
	}

	// Resume without repeating the state's entry message.
	spy := &Spy{}
	w.AddListener(spy)
	if err := w.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if w.IsSuspended != NotSuspended || !w.IsActive {
		t.Fatal("not resumed")
	}
	for _, e := range spy.Events {
		if e.Kind == "activate" {
			t.Fatalf("resume re-activated: %#v", e)
		}
	}
}

func TestDiscardSuspended(t *testing.T) {
	ctx := context.Background()
	repo := newMemFlowRepo()

	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	w.Repo = repo
	w.SaveReminder = true

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "cancel"); err != nil {
		t.Fatal(err)
	}
	if err := w.DecideSuspension(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, have := repo.snaps[w.Id]; have {
		t.Fatal("not deleted")
	}
}

func TestSuspensionSerialization(t *testing.T) {
	for _, c := range []struct {
		s    Suspension
		want string
	}{
		{NotSuspended, "false"},
		{Suspended, "true"},
		{Undecided, `"undecided"`},
	} {
		js, err := c.s.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		if string(js) != c.want {
			t.Fatalf("%v: %s", c.s, js)
		}
		var back Suspension
		if err := back.UnmarshalJSON(js); err != nil {
			t.Fatal(err)
		}
		if back != c.s {
			t.Fatalf("round trip: %v != %v", back, c.s)
		}
	}
}

func TestYesNoGivesUpAfterRepeatedNonsense(t *testing.T) {
	ctx := context.Background()
	repo := newMemFlowRepo()

	w := &Workflow{
		Id:   "confirm",
		Name: "confirm",
		States: []*State{
			{Name: "sure", Type: YesNo, IsInitial: true, Variable: "sure"},
			{Name: "done", IsFinal: true},
		},
		Transitions: []*Transition{
			{From: "sure", To: "done", Value: CatchAll},
		},
		Variables: make(map[string]interface{}),
		Repo:      repo,
	}

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := w.Execute(ctx, "purple"); err != nil {
			t.Fatal(err)
		}
	}
	if w.IsActive {
		t.Fatal("still active after four strikes")
	}
	if _, have := repo.snaps[w.Id]; have {
		t.Fatal("abandoned flow not deleted")
	}
}

func TestYesNoParsesVariants(t *testing.T) {
	ctx := context.Background()

	w := &Workflow{
		Id:   "confirm",
		Name: "confirm",
		States: []*State{
			{Name: "sure", Type: YesNo, IsInitial: true, Variable: "sure"},
			{Name: "yay", IsFinal: true},
			{Name: "nay", IsFinal: true},
		},
		Transitions: []*Transition{
			{From: "sure", To: "yay", Value: "yes"},
			{From: "sure", To: "nay", Value: "no"},
		},
		Variables: make(map[string]interface{}),
	}

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "Yeah"); err != nil {
		t.Fatal(err)
	}
	if w.CurrentStateName != "yay" {
		t.Fatalf("current: %s", w.CurrentStateName)
	}
	if x := w.Variables["sure"]; x != "yes" {
		t.Fatalf("sure: %#v", x)
	}
}

func TestDecisionBranchesAutomatically(t *testing.T) {
	ctx := context.Background()

	w := &Workflow{
		Id:   "sizing",
		Name: "sizing",
		States: []*State{
			{Name: "ask", IsInitial: true, Variable: "n"},
			{
				Name: "judge",
				Type: Decision,
				Parameters: map[string]interface{}{
					"expression": `4 < n ? "big" : "small"`,
				},
				Variable: "verdict",
			},
			{Name: "big", IsFinal: true},
			{Name: "small", IsFinal: true},
		},
		Transitions: []*Transition{
			{From: "ask", To: "judge", Value: CatchAll},
			{From: "judge", To: "big", Value: "big"},
			{From: "judge", To: "small", Value: "small"},
		},
		Variables: make(map[string]interface{}),
	}

	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if w.CurrentStateName != "big" {
		t.Fatalf("current: %s", w.CurrentStateName)
	}
	if x := w.Variables["verdict"]; x != "big" {
		t.Fatalf("verdict: %#v", x)
	}
}

func TestCheckAnswerHintsAndGivesUp(t *testing.T) {
	ctx := context.Background()

	build := func() *Workflow {
		return &Workflow{
			Id:   "quiz",
			Name: "quiz",
			States: []*State{
				{
					Name:      "q",
					Type:      CheckAnswer,
					IsInitial: true,
					Variable:  "guess",
					Parameters: map[string]interface{}{
						"answer": float64(10),
					},
				},
				{Name: "done", IsFinal: true},
			},
			Transitions: []*Transition{
				{From: "q", To: "done", Value: CatchAll},
			},
			Variables: make(map[string]interface{}),
		}
	}

	w := build()
	spy := &Spy{}
	w.AddListener(spy)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Execute(ctx, "8"); err != nil {
		t.Fatal(err)
	}
	last := spy.Events[len(spy.Events)-1]
	if last.Kind != "reject" {
		t.Fatalf("event: %#v", last)
	}
	if want := "higher"; !strings.Contains(last.Message, want) {
		t.Fatalf("hint: %q", last.Message)
	}
	if err := w.Execute(ctx, "10"); err != nil {
		t.Fatal(err)
	}
	if w.IsActive {
		t.Fatal("still active")
	}

	// Three wrong guesses move on anyway.
	w = build()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, guess := range []string{"1", "2", "3"} {
		if err := w.Execute(ctx, guess); err != nil {
			t.Fatal(err)
		}
	}
	if w.IsActive {
		t.Fatal("still active after three tries")
	}
}

func TestPersonalizationSkipsKnownFact(t *testing.T) {
	ctx := context.Background()

	build := func(known bool, set func(string, interface{}) error) *Workflow {
		return &Workflow{
			Id:   "profile",
			Name: "profile",
			States: []*State{
				{
					Name:      "city",
					Type:      PersonalizationCheck,
					IsInitial: true,
					Variable:  "city",
					Parameters: map[string]interface{}{
						"check": "city",
					},
				},
				{Name: "done", IsFinal: true},
			},
			Transitions: []*Transition{
				{From: "city", To: "done", Value: CatchAll},
			},
			Variables: make(map[string]interface{}),
			Context: &mutate.Context{
				HasPersonalization: func(string) bool { return known },
				SetPersonalization: set,
			},
		}
	}

	// Known: the flow runs through without input.
	w := build(true, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if w.IsActive {
		t.Fatal("still active")
	}

	// Unknown: the answer is recorded.
	var recorded interface{}
	w = build(false, func(name string, value interface{}) error {
		recorded = value
		return nil
	})
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !w.IsActive {
		t.Fatal("should be waiting for input")
	}
	if err := w.Execute(ctx, "Paris"); err != nil {
		t.Fatal(err)
	}
	if recorded != "Paris" {
		t.Fatalf("recorded: %#v", recorded)
	}
}

func TestExecuteOnInactiveFlowFails(t *testing.T) {
	w, err := NewWorkflow(lineDef(t))
	if err != nil {
		t.Fatal(err)
	}
	err = w.Execute(context.Background(), "hi")
	if _, is := err.(*Inactive); !is {
		t.Fatalf("error: %#v", err)
	}
}
