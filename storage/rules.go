/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math/rand"

	"github.com/Qwiery/qwiery-sub001/rules"

	bolt "go.etcd.io/bbolt"
)

// RuleStore implements rules.Repository on a Store.
//
// Items are stored as JSON keyed by canonical id; usage counters live
// in their own bucket keyed the same way.
type RuleStore struct {
	s *Store
}

// Subset returns the candidate items for a scope: the requester's own
// items plus (unless UserSpecific) everyone's, optionally restricted
// to one category.
func (r *RuleStore) Subset(ctx context.Context, scope rules.Scope) ([]*rules.Item, error) {
	var acc []*rules.Item
	err := r.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rulesBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			var item rules.Item
			if err := json.Unmarshal(bs, &item); err != nil {
				return err
			}
			if !inScope(&item, scope) {
				continue
			}
			acc = append(acc, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.s.logf("Subset found %d rules", len(acc))
	return acc, nil
}

func inScope(item *rules.Item, scope rules.Scope) bool {
	owned := rules.Canon(item.UserId) == rules.Canon(scope.UserId)
	shared := rules.Canon(item.UserId) == rules.Canon(rules.Everyone)
	if scope.UserSpecific {
		if !owned {
			return false
		}
	} else if !owned && !shared {
		return false
	}
	if scope.Category != "" && rules.Canon(item.Category) != rules.Canon(scope.Category) {
		return false
	}
	return true
}

func (r *RuleStore) ById(ctx context.Context, id string) (*rules.Item, error) {
	var item *rules.Item
	err := r.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rulesBucket)
		if b == nil {
			return nil
		}
		bs := b.Get([]byte(rules.Canon(id)))
		if bs == nil {
			return nil
		}
		item = &rules.Item{}
		return json.Unmarshal(bs, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *RuleStore) Upsert(ctx context.Context, item *rules.Item) error {
	js, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(rulesBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(rules.Canon(item.Id)), js)
	})
}

// HasQuestion reports whether some item visible to the user already
// has the given question pattern (compared case-insensitively after
// trimming).
func (r *RuleStore) HasQuestion(ctx context.Context, question, userId string) (bool, error) {
	want := rules.Canon(question)
	items, err := r.Subset(ctx, rules.Scope{UserId: userId})
	if err != nil {
		return false, err
	}
	for _, item := range items {
		for _, q := range item.Questions {
			if rules.Canon(q) == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *RuleStore) RemoveById(ctx context.Context, id string) error {
	key := []byte(rules.Canon(id))
	return r.s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(rulesBucket); b != nil {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		if b := tx.Bucket(usageBucket); b != nil {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RuleStore) CategoryExists(ctx context.Context, category string) (bool, error) {
	cats, err := r.Categories(ctx)
	if err != nil {
		return false, err
	}
	want := rules.Canon(category)
	for _, c := range cats {
		if rules.Canon(c) == want {
			return true, nil
		}
	}
	return false, nil
}

// Categories returns the distinct (canonical) category names in use.
func (r *RuleStore) Categories(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := r.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rulesBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			var item rules.Item
			if err := json.Unmarshal(bs, &item); err != nil {
				return err
			}
			if cat := rules.Canon(item.Category); cat != "" {
				seen[cat] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	acc := make([]string, 0, len(seen))
	for cat := range seen {
		acc = append(acc, cat)
	}
	return acc, nil
}

// RemoveCategory deletes every item in the category.
func (r *RuleStore) RemoveCategory(ctx context.Context, category string) error {
	want := rules.Canon(category)
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rulesBucket)
		if b == nil {
			return nil
		}
		var doomed [][]byte
		c := b.Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			var item rules.Item
			if err := json.Unmarshal(bs, &item); err != nil {
				return err
			}
			if rules.Canon(item.Category) == want {
				key := make([]byte, len(id))
				copy(key, id)
				doomed = append(doomed, key)
			}
		}
		for _, key := range doomed {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// RandomSample returns up to n randomly chosen items.
func (r *RuleStore) RandomSample(ctx context.Context, n int) ([]*rules.Item, error) {
	all, err := r.Subset(ctx, rules.Scope{UserId: rules.Everyone})
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	if n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// CountUsage increments the item's usage counter.
func (r *RuleStore) CountUsage(ctx context.Context, id string) error {
	key := []byte(rules.Canon(id))
	return r.s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(usageBucket)
		if err != nil {
			return err
		}
		count := uint64(0)
		if bs := b.Get(key); len(bs) == 8 {
			count = binary.BigEndian.Uint64(bs)
		}
		bs := make([]byte, 8)
		binary.BigEndian.PutUint64(bs, count+1)
		return b.Put(key, bs)
	})
}

// UsageCount reads an item's usage counter.
func (r *RuleStore) UsageCount(ctx context.Context, id string) (uint64, error) {
	key := []byte(rules.Canon(id))
	count := uint64(0)
	err := r.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(usageBucket)
		if b == nil {
			return nil
		}
		if bs := b.Get(key); len(bs) == 8 {
			count = binary.BigEndian.Uint64(bs)
		}
		return nil
	})
	return count, err
}
