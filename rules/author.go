package rules

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Qwiery/qwiery-sub001/util"

	"github.com/jsccast/yaml"
)

// DuplicateQuestion occurs when learning a rule whose question
// pattern is already taken in the user's scope.  An explicit
// rejection, never a silent overwrite.
type DuplicateQuestion struct {
	Question string
	UserId   string
}

func (e *DuplicateQuestion) Error() string {
	return `question "` + e.Question + `" already learned for "` + e.UserId + `"`
}

// Learn validates and stores an item.
//
// A new item with an already-taken question is rejected with
// DuplicateQuestion.  Re-upserting an existing id is an update, not a
// duplicate.
func Learn(ctx context.Context, repo Repository, item *Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Id == "" {
		item.Id = util.Gensym(16)
	}
	if item.UserId == "" {
		item.UserId = Everyone
	}
	item.Category = Canon(item.Category)

	existing, err := repo.ById(ctx, item.Id)
	if err != nil {
		return err
	}
	if existing == nil {
		for _, q := range item.Questions {
			have, err := repo.HasQuestion(ctx, q, item.UserId)
			if err != nil {
				return err
			}
			if have {
				return &DuplicateQuestion{q, item.UserId}
			}
		}
	}

	return repo.Upsert(ctx, item)
}

// document is the authored rule document shape.
type document struct {
	Id        string      `json:"Id" yaml:"Id"`
	Questions interface{} `json:"Questions" yaml:"Questions"`
	Template  *Template   `json:"Template" yaml:"Template"`
	Topics    []string    `json:"Topics" yaml:"Topics"`
	UserId    string      `json:"UserId" yaml:"UserId"`
	Category  string      `json:"Category" yaml:"Category"`
	Approved  bool        `json:"Approved" yaml:"Approved"`
}

func (d *document) item() (*Item, error) {
	item := &Item{
		Id:       d.Id,
		Template: d.Template,
		Topics:   d.Topics,
		UserId:   d.UserId,
		Category: Canon(d.Category),
		Approved: d.Approved,
	}

	// Questions may be one pattern or a list.
	switch vv := d.Questions.(type) {
	case string:
		item.Questions = []string{vv}
	case []interface{}:
		for _, x := range vv {
			s, is := x.(string)
			if !is {
				return nil, &BadItem{d.Id, "non-string question"}
			}
			item.Questions = append(item.Questions, s)
		}
	case []string:
		item.Questions = vv
	case nil:
	default:
		return nil, &BadItem{d.Id, "bad questions"}
	}

	if err := item.Validate(); err != nil {
		return nil, err
	}

	return item, nil
}

// ParseItems parses authored rule documents from YAML (or JSON,
// which is a subset).
func ParseItems(bs []byte) ([]*Item, error) {
	var docs []*document
	if strings.HasPrefix(strings.TrimSpace(string(bs)), "[") {
		if err := json.Unmarshal(bs, &docs); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(bs, &docs); err != nil {
		return nil, err
	}

	acc := make([]*Item, 0, len(docs))
	for _, d := range docs {
		item, err := d.item()
		if err != nil {
			return nil, err
		}
		acc = append(acc, item)
	}
	return acc, nil
}
