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
	"encoding/json"
	"strings"

	"github.com/Qwiery/qwiery-sub001/flow"

	bolt "go.etcd.io/bbolt"
)

// FlowStore implements flow.Repository on a Store.
//
// Workflow snapshots are JSON keyed by workflow id; library items
// (reusable definitions) are JSON keyed by canonical name.
type FlowStore struct {
	s *Store
}

func (f *FlowStore) Upsert(ctx context.Context, snap *flow.Snapshot) error {
	js, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	f.s.logf("Upsert flow %s", snap.Id)
	return f.s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(flowsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(snap.Id), js)
	})
}

func (f *FlowStore) Delete(ctx context.Context, id string) error {
	return f.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(flowsBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

func (f *FlowStore) ById(ctx context.Context, id string) (*flow.Snapshot, error) {
	var snap *flow.Snapshot
	err := f.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(flowsBucket)
		if b == nil {
			return nil
		}
		bs := b.Get([]byte(id))
		if bs == nil {
			return nil
		}
		snap = &flow.Snapshot{}
		return json.Unmarshal(bs, snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Suspended returns the snapshots of suspended workflows, including
// those suspended "undecided".
func (f *FlowStore) Suspended(ctx context.Context) ([]*flow.Snapshot, error) {
	var acc []*flow.Snapshot
	err := f.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(flowsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			var snap flow.Snapshot
			if err := json.Unmarshal(bs, &snap); err != nil {
				return err
			}
			if snap.IsSuspended == flow.NotSuspended {
				continue
			}
			acc = append(acc, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func libraryKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}

func (f *FlowStore) UpsertLibraryItem(ctx context.Context, name string, def *flow.Definition) error {
	js, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return f.s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(libraryBucket)
		if err != nil {
			return err
		}
		return b.Put(libraryKey(name), js)
	})
}

func (f *FlowStore) LibraryItem(ctx context.Context, name string) (*flow.Definition, error) {
	var def *flow.Definition
	err := f.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(libraryBucket)
		if b == nil {
			return nil
		}
		bs := b.Get(libraryKey(name))
		if bs == nil {
			return nil
		}
		def = &flow.Definition{}
		return json.Unmarshal(bs, def)
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (f *FlowStore) RemoveLibraryItem(ctx context.Context, name string) error {
	return f.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(libraryBucket)
		if b == nil {
			return nil
		}
		return b.Delete(libraryKey(name))
	})
}

func (f *FlowStore) LibraryItems(ctx context.Context) ([]string, error) {
	var acc []string
	err := f.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(libraryBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for name, _ := c.First(); name != nil; name, _ = c.Next() {
			acc = append(acc, string(name))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}
