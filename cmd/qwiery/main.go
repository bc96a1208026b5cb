/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// qwiery is a rule-driven dialogue REPL with pluggable IO couplings.
//
// Examples:
//
//	qwiery -rules rules.yaml
//	qwiery -io ws -db talk.db -- -addr :9000
//	qwiery -io mq -- -h tcp://broker -t talk/in -out-topic talk/out
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Qwiery/qwiery-sub001/engine"
	gojaeval "github.com/Qwiery/qwiery-sub001/expr/goja"
	"github.com/Qwiery/qwiery-sub001/flow"
	"github.com/Qwiery/qwiery-sub001/mutate"
	"github.com/Qwiery/qwiery-sub001/rules"
	"github.com/Qwiery/qwiery-sub001/storage"
	"github.com/Qwiery/qwiery-sub001/util"

	"gopkg.in/yaml.v2"
)

func main() {
	var (
		ioType       = flag.String("io", "std", "Coupling: std, ws, or mq (coupling flags go after --)")
		dbFile       = flag.String("db", "qwiery.db", "Bolt database file")
		rulesFile    = flag.String("rules", "", "Rule document (YAML or JSON) to learn at startup")
		flowsFile    = flag.String("flows", "", "Workflow manifest (YAML) to load into the library")
		userId       = flag.String("user", rules.Everyone, "User id for this session")
		category     = flag.String("category", "", "Restrict matching to one category")
		language     = flag.String("language", "", "Language tag for this session")
		fallback     = flag.String("fallback", "Sorry, I don't know about that.", "Answer when nothing matches")
		fetchTimeout = flag.Duration("fetch-timeout", 10*time.Second, "Timeout for %service fetches")
		verbose      = flag.Bool("v", false, "Verbosity")
	)
	flag.Parse()
	util.Logging = *verbose

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(*dbFile)
	if err != nil {
		log.Fatal(err)
	}
	if err := store.Open(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close(ctx)

	fetch, err := mutate.HTTPFetcher(*fetchTimeout)
	if err != nil {
		log.Fatal(err)
	}

	e := engine.New(store.Rules(), store.Flows())
	e.Context = newMutateContext(*language, fetch)

	if *rulesFile != "" {
		if err := loadRules(ctx, e, *rulesFile); err != nil {
			log.Fatal(err)
		}
	}
	if *flowsFile != "" {
		if err := loadFlows(ctx, e, *flowsFile); err != nil {
			log.Fatal(err)
		}
	}

	var couplings Couplings
	args := flag.Args()
	switch *ioType {
	case "std":
		couplings, _ = NewStdioCouplings(args)
	case "ws":
		couplings, _ = NewWebSocketCouplings(args)
	case "mq":
		couplings, _ = NewMQTTCouplings(args)
	default:
		log.Fatalf("unknown io %q", *ioType)
	}

	if err := couplings.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer couplings.Stop(ctx)

	in, out, err := couplings.IO(ctx)
	if err != nil {
		log.Fatal(err)
	}

	sess := &rules.Session{
		UserId:   *userId,
		Category: *category,
		Language: *language,
	}

	for line := range in {
		if strings.TrimSpace(line) == "" {
			continue
		}
		res, err := e.Ask(ctx, sess, line)
		if err != nil {
			log.Println("ask", err)
			out <- "Something went wrong."
			continue
		}
		if len(res.Output) == 0 {
			out <- *fallback
			continue
		}
		for _, msg := range res.Output {
			out <- msg
		}
	}
}

// newMutateContext builds the engine's capability bundle.  The
// evaluator is set explicitly rather than left to the registry of
// default evaluators, which is only populated by importing the
// evaluator package.
func newMutateContext(language string, fetch mutate.Fetcher) *mutate.Context {
	return &mutate.Context{
		Language:  language,
		Evaluator: gojaeval.NewEvaluator(),
		Fetch:     fetch,
	}
}

// loadRules learns every rule in the document, skipping (with a log
// line) rules whose question is already taken, so reloading the same
// file against a persistent database is harmless.
func loadRules(ctx context.Context, e *engine.Engine, filename string) error {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	items, err := rules.ParseItems(bs)
	if err != nil {
		return err
	}
	added := 0
	for _, item := range items {
		if err := e.Learn(ctx, item); err != nil {
			if _, is := err.(*rules.DuplicateQuestion); is {
				util.Logf("skipping %s: %s", item.Id, err)
				continue
			}
			return err
		}
		added++
	}
	log.Printf("learned %d rules from %s", added, filename)
	return nil
}

// flowsManifest names the workflow definition files to load into the
// library.
type flowsManifest struct {
	Flows []struct {
		Name string `yaml:"name"`
		File string `yaml:"file"`
	} `yaml:"flows"`
}

// loadFlows reads a manifest, parses each referenced workflow
// definition, and stores it as a library item.  File paths are
// relative to the manifest.
func loadFlows(ctx context.Context, e *engine.Engine, filename string) error {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var manifest flowsManifest
	if err := yaml.Unmarshal(bs, &manifest); err != nil {
		return err
	}
	dir := filepath.Dir(filename)
	for _, entry := range manifest.Flows {
		bs, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			return err
		}
		def, err := flow.ParseDefinition(bs)
		if err != nil {
			return err
		}
		name := entry.Name
		if name == "" {
			name = def.Name
		}
		if err := e.Flows.UpsertLibraryItem(ctx, name, def); err != nil {
			return err
		}
		util.Logf("library flow %s from %s", name, entry.File)
	}
	log.Printf("loaded %d library flows from %s", len(manifest.Flows), filename)
	return nil
}
