// Package qwiery provides rule-driven dialogue machinery: a scoring
// pattern matcher with wildcard extraction, a redirection resolver, a
// directive-based template mutator, and a persisted multi-turn
// dialogue state machine.
//
// The pieces are plain packages (match, rules, mutate, flow, engine,
// storage), and a command-line front end is in cmd/qwiery.
package qwiery
