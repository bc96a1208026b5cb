// Package rules defines the authored rule item, the rule-repository
// contract, and the redirection resolver that turns an utterance into
// a resolution stack.
package rules

import (
	"context"
	"strings"
)

// Everyone is the ownership scope for rules visible to all users.
const Everyone = "Everyone"

// Template is a rule's response template: an Answer directive tree
// and an optional Think sub-tree (evaluated for side effects, never
// shown).
type Template struct {
	Answer interface{} `json:"Answer" yaml:"Answer"`
	Think  interface{} `json:"Think,omitempty" yaml:"Think,omitempty"`
}

// Redirect reports whether the template's answer is a redirect, and
// to which question.
func (t *Template) Redirect() (string, bool) {
	if t == nil {
		return "", false
	}
	m, is := t.Answer.(map[string]interface{})
	if !is {
		return "", false
	}
	s, is := m["Redirect"].(string)
	return s, is && s != ""
}

// Item is one authored rule: utterance patterns mapped to a response
// template.
type Item struct {
	Id string `json:"Id"`

	// Questions holds one or more utterance patterns, each
	// possibly containing wildcard tokens.
	Questions []string `json:"Questions"`

	Template *Template `json:"Template"`

	Topics []string `json:"Topics,omitempty"`

	Category string `json:"Category,omitempty"`

	// UserId is the ownership scope: a specific user or Everyone.
	UserId string `json:"UserId,omitempty"`

	Approved bool `json:"Approved,omitempty"`
}

// BadItem occurs when an item fails validation.
type BadItem struct {
	Id     string
	Reason string
}

func (e *BadItem) Error() string {
	return `bad rule "` + e.Id + `": ` + e.Reason
}

// Validate checks the item's required fields.
//
// Template.Answer must be present.
func (item *Item) Validate() error {
	if len(item.Questions) == 0 {
		return &BadItem{item.Id, "no questions"}
	}
	if item.Template == nil || item.Template.Answer == nil {
		return &BadItem{item.Id, "no answer"}
	}
	return nil
}

// Canon normalizes an identifier (rule id, category name) to its
// canonical form.  All repository maps are keyed on this form.
func Canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Scope selects a candidate subset from a repository.
type Scope struct {
	// UserId is the requester.
	UserId string

	// Category optionally restricts candidates to one category.
	Category string

	// UserSpecific restricts candidates to the requester's own
	// items (instead of the requester's plus Everyone's).
	UserSpecific bool
}

// Repository is the rule-store contract this package consumes.
//
// See package storage for the standard implementation.
type Repository interface {
	// Subset returns the candidate items for a scope.
	Subset(ctx context.Context, scope Scope) ([]*Item, error)

	ById(ctx context.Context, id string) (*Item, error)

	// Upsert stores the item, replacing any item with the same
	// id (re-indexing on question change).
	Upsert(ctx context.Context, item *Item) error

	// HasQuestion reports whether some item in the user's scope
	// already has the given question pattern.
	HasQuestion(ctx context.Context, question, userId string) (bool, error)

	RemoveById(ctx context.Context, id string) error

	CategoryExists(ctx context.Context, category string) (bool, error)
	Categories(ctx context.Context) ([]string, error)
	RemoveCategory(ctx context.Context, category string) error

	// RandomSample returns up to n randomly chosen items.
	RandomSample(ctx context.Context, n int) ([]*Item, error)

	// CountUsage increments the item's usage counter.  Callers
	// treat this as best-effort.
	CountUsage(ctx context.Context, id string) error
}

// Session is the external per-turn envelope the caller supplies.
type Session struct {
	UserId   string
	Category string
	Language string
}
