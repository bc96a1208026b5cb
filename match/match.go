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

// Package match implements the utterance pattern matcher and scorer.
//
// A pattern is a whitespace-delimited sequence of literal tokens and
// wildcard getters ("%name", "%1", "*").  IsFit decides whether an
// input utterance can match a pattern at all; ScoreFit ranks how
// specific the match is; FindMatch scans a candidate set for the best
// (pattern, input) pair; Extract recovers the wildcard values from
// the winning pair.
package match

import (
	"regexp"
	"strings"
)

// Candidate is the minimal view of a rule that the matcher needs: an
// id and the rule's utterance patterns.
type Candidate struct {
	Id        string
	Questions []string
}

// Found reports the winning candidate of a FindMatch scan.
type Found struct {
	// Index is the position of the winner in the candidate slice.
	Index int

	Id string

	// Grab is the specific pattern (one of the winner's
	// Questions) that matched the input.
	Grab string

	Score float64
}

// Wildcard is one extracted {name, value} pair.
//
// Name is either a literal parameter name or a positional index
// ("1", "2", ...).  Values are never persisted.
type Wildcard struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// isWildToken reports whether a pattern token is a wildcard getter.
//
// A lone "*" also counts: it's the legacy trailing catch-all.
func isWildToken(token string) bool {
	return token == "*" || strings.Contains(token, "%")
}

func countWild(tokens []string) int {
	n := 0
	for _, token := range tokens {
		if isWildToken(token) {
			n++
		}
	}
	return n
}

// compileFit turns a pattern into an anchored, case-insensitive
// whole-string regular expression.  Every wildcard token becomes a
// non-greedy match-anything group.
func compileFit(pattern string) (*regexp.Regexp, error) {
	tokens := strings.Fields(pattern)
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		if isWildToken(token) {
			parts[i] = "(.*?)"
		} else {
			parts[i] = regexp.QuoteMeta(token)
		}
	}
	return regexp.Compile(`(?is)^\s*` + strings.Join(parts, `\s+`) + `\s*$`)
}

// IsFit reports whether the input could match the pattern.
func IsFit(pattern, input string) bool {
	re, err := compileFit(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(input)
}

// ScoreFit scores how specifically the pattern matches the input.
//
// The score is (tokens(pattern) - 2*wildcards(pattern)) / tokens(input):
// literal-token overlap is rewarded, wildcard-heavy (generic) patterns
// are penalized at double weight, and normalizing by the input length
// makes an exact literal match score 1.  Either string without a
// non-whitespace token scores 0.
//
// ScoreFit does not check IsFit.  Callers should.
func ScoreFit(pattern, input string) float64 {
	pt := strings.Fields(pattern)
	it := strings.Fields(input)
	if len(pt) == 0 || len(it) == 0 {
		return 0
	}
	return float64(len(pt)-2*countWild(pt)) / float64(len(it))
}

// FindMatch scans the candidates once for the best-scoring fit.
//
// An exact score of 1 short-circuits immediately: the first exact
// match wins, and later (possibly more specific) exact matches are
// never considered.  That first-found policy is intentional.
// Otherwise the highest score seen wins, ties resolved by
// first-encountered.  Returns nil if nothing fits.
func FindMatch(candidates []Candidate, input string) *Found {
	var best *Found
	for i, c := range candidates {
		for _, q := range c.Questions {
			if !IsFit(q, input) {
				continue
			}
			score := ScoreFit(q, input)
			found := &Found{
				Index: i,
				Id:    c.Id,
				Grab:  q,
				Score: score,
			}
			if score == 1 {
				return found
			}
			if best == nil || best.Score < score {
				best = found
			}
		}
	}
	return best
}
