package rules

import (
	"context"
	"sync"
	"testing"

	"github.com/Qwiery/qwiery-sub001/match"
)

// memRepo is a toy in-memory Repository for tests.  The real one
// lives in package storage.
type memRepo struct {
	sync.Mutex
	items  map[string]*Item
	counts map[string]int
}

func newMemRepo(items ...*Item) *memRepo {
	r := &memRepo{
		items:  make(map[string]*Item),
		counts: make(map[string]int),
	}
	for _, item := range items {
		r.items[Canon(item.Id)] = item
	}
	return r
}

func (r *memRepo) Subset(ctx context.Context, scope Scope) ([]*Item, error) {
	r.Lock()
	defer r.Unlock()
	var acc []*Item
	for _, item := range r.items {
		if scope.Category != "" && Canon(item.Category) != Canon(scope.Category) {
			continue
		}
		if scope.UserSpecific {
			if item.UserId != scope.UserId {
				continue
			}
		} else if item.UserId != scope.UserId && item.UserId != Everyone {
			continue
		}
		acc = append(acc, item)
	}
	return acc, nil
}

func (r *memRepo) ById(ctx context.Context, id string) (*Item, error) {
	r.Lock()
	defer r.Unlock()
	return r.items[Canon(id)], nil
}

func (r *memRepo) Upsert(ctx context.Context, item *Item) error {
	r.Lock()
	defer r.Unlock()
	r.items[Canon(item.Id)] = item
	return nil
}

func (r *memRepo) HasQuestion(ctx context.Context, question, userId string) (bool, error) {
	r.Lock()
	defer r.Unlock()
	for _, item := range r.items {
		if item.UserId != userId {
			continue
		}
		for _, q := range item.Questions {
			if Canon(q) == Canon(question) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *memRepo) RemoveById(ctx context.Context, id string) error {
	r.Lock()
	defer r.Unlock()
	delete(r.items, Canon(id))
	return nil
}

func (r *memRepo) CategoryExists(ctx context.Context, category string) (bool, error) {
	r.Lock()
	defer r.Unlock()
	for _, item := range r.items {
		if Canon(item.Category) == Canon(category) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Categories(ctx context.Context) ([]string, error) {
	r.Lock()
	defer r.Unlock()
	seen := map[string]bool{}
	var acc []string
	for _, item := range r.items {
		c := Canon(item.Category)
		if c != "" && !seen[c] {
			seen[c] = true
			acc = append(acc, c)
		}
	}
	return acc, nil
}

func (r *memRepo) RemoveCategory(ctx context.Context, category string) error {
	r.Lock()
	defer r.Unlock()
	for id, item := range r.items {
		if Canon(item.Category) == Canon(category) {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *memRepo) RandomSample(ctx context.Context, n int) ([]*Item, error) {
	r.Lock()
	defer r.Unlock()
	var acc []*Item
	for _, item := range r.items {
		if len(acc) == n {
			break
		}
		acc = append(acc, item)
	}
	return acc, nil
}

func (r *memRepo) CountUsage(ctx context.Context, id string) error {
	r.Lock()
	defer r.Unlock()
	r.counts[Canon(id)]++
	return nil
}

func answer(s string) *Template {
	return &Template{Answer: s}
}

func redirect(question string) *Template {
	return &Template{Answer: map[string]interface{}{"Redirect": question}}
}

func TestAskOnceMiss(t *testing.T) {
	r := &Resolver{Repo: newMemRepo(&Item{
		Id:        "a",
		Questions: []string{"something else"},
		UserId:    Everyone,
		Template:  answer("nope"),
	})}
	item, err := r.AskOnce(context.Background(), "hello there", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatalf("unexpected match %#v", item)
	}
}

func TestAskOnceMatchAndWildcards(t *testing.T) {
	r := &Resolver{Repo: newMemRepo(&Item{
		Id:        "a",
		Questions: []string{"my name is %name"},
		UserId:    Everyone,
		Template:  answer("hello %name"),
	})}
	item, err := r.AskOnce(context.Background(), "my name is Ada Lovelace", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if item == nil {
		t.Fatal("no match")
	}
	if item.Id != "a" {
		t.Fatalf(`matched "%s"`, item.Id)
	}
	if item.Head != "my name is %name" {
		t.Fatalf(`head "%s"`, item.Head)
	}
	if len(item.Wildcards) != 1 || item.Wildcards[0].Name != "name" ||
		item.Wildcards[0].Value != "Ada Lovelace" {
		t.Fatalf("wildcards %#v", item.Wildcards)
	}
}

func TestAskOnceClonesTemplate(t *testing.T) {
	stored := &Item{
		Id:        "a",
		Questions: []string{"hi"},
		UserId:    Everyone,
		Template:  &Template{Answer: map[string]interface{}{"text": "hi"}},
	}
	r := &Resolver{Repo: newMemRepo(stored)}
	item, err := r.AskOnce(context.Background(), "hi", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	item.Template.Answer.(map[string]interface{})["text"] = "mutated"
	if stored.Template.Answer.(map[string]interface{})["text"] != "hi" {
		t.Fatal("stored template was mutated")
	}
}

func TestAskOnceUserSpecific(t *testing.T) {
	r := &Resolver{Repo: newMemRepo(
		&Item{Id: "mine", Questions: []string{"secret"}, UserId: "u1", Template: answer("yours")},
		&Item{Id: "public", Questions: []string{"secret"}, UserId: Everyone, Template: answer("everyone's")},
	)}
	session := &Session{UserId: "u2"}
	item, err := r.AskOnce(context.Background(), "secret", session, true)
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Fatalf("u2 shouldn't see %#v", item)
	}
}

func TestAskUntilDoneRedirect(t *testing.T) {
	r := &Resolver{Repo: newMemRepo(
		&Item{Id: "alias", Questions: []string{"wie ben jij"}, UserId: Everyone,
			Template: redirect("who are you")},
		&Item{Id: "real", Questions: []string{"who are you"}, UserId: Everyone,
			Template: answer("I'm the bot")},
	)}
	var stack Stack
	if err := r.AskUntilDone(context.Background(), "wie ben jij", &stack, nil, false); err != nil {
		t.Fatal(err)
	}
	if len(stack) != 2 {
		t.Fatalf("stack %#v", stack)
	}
	// Most recent first: element 0 holds the final answer.
	if stack[0].Id != "real" {
		t.Fatalf(`final "%s"`, stack[0].Id)
	}
	if stack[1].Id != "alias" {
		t.Fatalf(`first hop "%s"`, stack[1].Id)
	}
}

func TestAskUntilDoneRedirectSubstitutesWildcards(t *testing.T) {
	r := &Resolver{Repo: newMemRepo(
		&Item{Id: "alias", Questions: []string{"info over %1"}, UserId: Everyone,
			Template: redirect("tell me about %1")},
		&Item{Id: "real", Questions: []string{"tell me about cheese"}, UserId: Everyone,
			Template: answer("it's great")},
	)}
	var stack Stack
	if err := r.AskUntilDone(context.Background(), "info over cheese", &stack, nil, false); err != nil {
		t.Fatal(err)
	}
	if len(stack) != 2 || stack[0].Id != "real" {
		t.Fatalf("stack %#v", stack)
	}
}

func TestSubstituteWildcardsPrefixNames(t *testing.T) {
	got := substituteWildcards("say %ab to %a", []match.Wildcard{
		{Name: "a", Value: "Ada"},
		{Name: "ab", Value: "hello"},
	})
	if got != "say hello to Ada" {
		t.Fatalf(`got "%s"`, got)
	}
}

func TestAskUntilDoneMissLeavesStack(t *testing.T) {
	r := &Resolver{Repo: newMemRepo()}
	stack := Stack{&StackItem{Id: "old"}}
	if err := r.AskUntilDone(context.Background(), "anything", &stack, nil, false); err != nil {
		t.Fatal(err)
	}
	if len(stack) != 1 || stack[0].Id != "old" {
		t.Fatalf("stack %#v", stack)
	}
}

func TestAskUntilDoneCircuitBreaker(t *testing.T) {
	// Only circular redirects: a -> b -> a -> ...
	r := &Resolver{
		MaximumRedirections: 10,
		Repo: newMemRepo(
			&Item{Id: "a", Questions: []string{"ping"}, UserId: Everyone,
				Template: redirect("pong")},
			&Item{Id: "b", Questions: []string{"pong"}, UserId: Everyone,
				Template: redirect("ping")},
		),
	}
	var stack Stack
	if err := r.AskUntilDone(context.Background(), "ping", &stack, nil, false); err != nil {
		t.Fatal(err)
	}
	if len(stack) != 9 {
		t.Fatalf("stack length %d", len(stack))
	}
	if stack[0].Id != StopId {
		t.Fatalf(`element 0 is "%s"`, stack[0].Id)
	}
}
