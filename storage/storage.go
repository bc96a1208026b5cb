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

// Package storage persists rules and workflow snapshots in a single
// Bolt file.
package storage

import (
	"context"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	rulesBucket   = []byte("rules")
	usageBucket   = []byte("usage")
	flowsBucket   = []byte("flows")
	libraryBucket = []byte("library")
)

// Store is a Bolt-backed persistence layer.  Get the typed views with
// Rules and Flows.
type Store struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

// NewStore takes in a filename and returns a Store.  Call Open before
// use.
func NewStore(filename string) (*Store, error) {
	return &Store{
		filename: filename,
	}, nil
}

// Open opens the underlying Bolt file and creates the buckets.
func (s *Store) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db

	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{rulesBucket, usageBucket, flowsBucket, libraryBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying Bolt file.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) logf(format string, args ...interface{}) {
	if s == nil {
		return
	}
	if s.Debug {
		log.Printf("BoltDB "+format, args...)
	}
}

// Rules returns the rule-repository view of the store.
func (s *Store) Rules() *RuleStore {
	return &RuleStore{s}
}

// Flows returns the workflow-repository view of the store.
func (s *Store) Flows() *FlowStore {
	return &FlowStore{s}
}
