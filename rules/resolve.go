package rules

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Qwiery/qwiery-sub001/match"
	"github.com/Qwiery/qwiery-sub001/util"
)

var (
	// DefaultMaximumRedirections caps redirect-chain following
	// when a Resolver doesn't set its own limit.
	DefaultMaximumRedirections = 10

	// StopId is the id of the synthetic terminal item pushed when
	// a redirect chain hits the depth cap.
	StopId = "STOP"

	// StopAnswer is the apology in the synthetic terminal item.
	StopAnswer = "I'm sorry, but I seem to be going around in circles here."
)

// StackItem is one rule-resolution step: the matched rule plus the
// wildcard values extracted from the matched pattern.
type StackItem struct {
	Id        string           `json:"Id"`
	Questions []string         `json:"Questions,omitempty"`
	Wildcards []match.Wildcard `json:"Wildcards,omitempty"`
	Template  *Template        `json:"Template"`

	// Head is the specific pattern that matched the input.
	Head string `json:"Head,omitempty"`

	Topics   []string `json:"Topics,omitempty"`
	Approved bool     `json:"Approved,omitempty"`
	Category string   `json:"Category,omitempty"`
}

// Stack is an ordered list of resolution steps, most recent first:
// index 0 holds the final answer.
type Stack []*StackItem

func (s *Stack) push(item *StackItem) {
	*s = append(Stack{item}, *s...)
}

// Resolver follows redirects against a rule repository.
type Resolver struct {
	Repo Repository

	// Overrides, if non-empty, is an app-level candidate list
	// consulted instead of the repository.
	Overrides []*Item

	// MaximumRedirections caps redirect-chain depth.  Zero means
	// DefaultMaximumRedirections.
	MaximumRedirections int
}

func (r *Resolver) maxRedirections() int {
	if r.MaximumRedirections <= 0 {
		return DefaultMaximumRedirections
	}
	return r.MaximumRedirections
}

func clamp(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if hi < x {
		return hi
	}
	return x
}

// cloneTemplate deep-copies a template so that evaluation can never
// mutate the stored item.
func cloneTemplate(t *Template) (*Template, error) {
	js, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	acc := &Template{}
	if err := json.Unmarshal(js, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// AskOnce finds the best-matching rule for a question.
//
// The candidate set is the Overrides list if configured, else a
// scope-filtered subset from the repository (restricted to the
// requester's own items when userSpecific).  Returns nil (and no
// error) when nothing matches or the match has no Answer.  A match
// fires a best-effort, non-blocking usage-count increment.
func (r *Resolver) AskOnce(ctx context.Context, question string, session *Session, userSpecific bool) (*StackItem, error) {
	if session == nil {
		session = &Session{}
	}

	candidates := r.Overrides
	if len(candidates) == 0 {
		if r.Repo == nil {
			return nil, nil
		}
		var err error
		candidates, err = r.Repo.Subset(ctx, Scope{
			UserId:       session.UserId,
			Category:     session.Category,
			UserSpecific: userSpecific,
		})
		if err != nil {
			return nil, err
		}
	}

	mcs := make([]match.Candidate, len(candidates))
	for i, item := range candidates {
		mcs[i] = match.Candidate{
			Id:        item.Id,
			Questions: item.Questions,
		}
	}

	found := match.FindMatch(mcs, question)
	if found == nil {
		return nil, nil
	}

	item := candidates[found.Index]
	if item.Template == nil || item.Template.Answer == nil {
		return nil, nil
	}

	template, err := cloneTemplate(item.Template)
	if err != nil {
		return nil, err
	}

	if r.Repo != nil {
		// Best-effort; never blocks the resolution.
		go func(id string) {
			if err := r.Repo.CountUsage(context.Background(), id); err != nil {
				util.Logf("warning: usage count for %s: %s", id, err)
			}
		}(item.Id)
	}

	return &StackItem{
		Id:        item.Id,
		Questions: item.Questions,
		Wildcards: match.Extract(found.Grab, question),
		Template:  template,
		Head:      found.Grab,
		Topics:    item.Topics,
		Approved:  item.Approved,
		Category:  item.Category,
	}, nil
}

// substituteWildcards replaces each wildcard token in the redirect
// string with that hop's extracted value, by literal token
// replacement.  Longer names go first so "%ab" is never clobbered by
// a "%a" substitution.
func substituteWildcards(redirect string, ws []match.Wildcard) string {
	ordered := make([]match.Wildcard, len(ws))
	copy(ordered, ws)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Name) > len(ordered[j].Name)
	})
	for _, w := range ordered {
		redirect = strings.ReplaceAll(redirect, "%"+w.Name, w.Value)
	}
	return redirect
}

// AskUntilDone resolves a question, following redirect answers until
// a final rule is reached.
//
// A miss leaves the stack untouched.  Each hop is pushed to the front
// of the stack.  When the stack reaches clamp(MaximumRedirections-1,
// 2, 20) items, a synthetic terminal item (Id StopId) is pushed
// instead of recursing further: a circuit breaker against circular
// redirect chains, not an error.
func (r *Resolver) AskUntilDone(ctx context.Context, question string, stack *Stack, session *Session, userSpecific bool) error {
	item, err := r.AskOnce(ctx, question, session, userSpecific)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	stack.push(item)

	redirect, have := item.Template.Redirect()
	if !have {
		return nil
	}

	limit := clamp(r.maxRedirections()-1, 2, 20)
	if limit-1 <= len(*stack) {
		stack.push(&StackItem{
			Id: StopId,
			Template: &Template{
				Answer: StopAnswer,
			},
		})
		return nil
	}

	next := substituteWildcards(redirect, item.Wildcards)
	return r.AskUntilDone(ctx, next, stack, session, userSpecific)
}
