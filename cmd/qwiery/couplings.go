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

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
)

// Couplings connect the engine to the outside world: utterances come
// in on one channel, answers go out on another.
type Couplings interface {
	// Start initializes the Couplings.
	Start(ctx context.Context) error

	// IO returns the input and output channels.  The input
	// channel closes when the source is exhausted.
	IO(ctx context.Context) (chan string, chan string, error)

	// Stop shuts down the Couplings.
	Stop(ctx context.Context) error
}

// StdioCouplings is a line-oriented REPL on stdin/stdout.
type StdioCouplings struct {
	Prompt string

	in  chan string
	out chan string
}

func NewStdioCouplings(args []string) (*StdioCouplings, *flag.FlagSet) {
	c := &StdioCouplings{}
	fs := flag.NewFlagSet("std", flag.ExitOnError)
	fs.StringVar(&c.Prompt, "prompt", "> ", "Input prompt (empty to disable)")
	if args == nil {
		return nil, fs
	}
	fs.Parse(args)
	return c, fs
}

func (c *StdioCouplings) Start(ctx context.Context) error {
	c.in = make(chan string)
	c.out = make(chan string)

	go func() {
		defer close(c.in)
		if c.Prompt != "" {
			fmt.Print(c.Prompt)
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case c.in <- scanner.Text():
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-c.out:
				if !ok {
					return
				}
				fmt.Println(line)
				if c.Prompt != "" {
					fmt.Print(c.Prompt)
				}
			}
		}
	}()

	return nil
}

func (c *StdioCouplings) IO(ctx context.Context) (chan string, chan string, error) {
	return c.in, c.out, nil
}

func (c *StdioCouplings) Stop(ctx context.Context) error {
	return nil
}
