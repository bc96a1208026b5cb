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

package match

import (
	"strconv"
	"strings"

	"github.com/Qwiery/qwiery-sub001/wildcard"
)

// extractTokens splits a string on whitespace and ':' for wildcard
// extraction.
func extractTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// wildName gives the name to record for a wildcard token.
//
// A named getter keeps its parsed name; a positional getter ("%1")
// keeps its number; a bare "*" (or an unparseable token) is named by
// its 1-based ordinal among the pattern's wildcard tokens.
func wildName(token string, ordinal int) string {
	if token != "*" {
		if g, err := wildcard.Parse(token); err == nil && g != nil && g.Name != "" {
			return g.Name
		}
	}
	return strconv.Itoa(ordinal)
}

// Extract recovers the wildcard values from a matched (pattern,
// input) pair.
//
// Both strings are reverse-tokenized on whitespace and ':'.  The walk
// runs synchronized from the end: literal tokens are consumed when
// they match, and consecutive non-matching input tokens accumulate as
// the current wildcard's value until the next literal token (or
// pattern exhaustion with a trailing "*") is reached.  One {name,
// value} pair is emitted per wildcard token encountered; empty
// accumulations are skipped, and a name is never added twice.
func Extract(pattern, input string) []Wildcard {
	pt := extractTokens(pattern)
	it := extractTokens(input)

	// Ordinals for positional naming, assigned left to right.
	ordinals := make(map[int]int, len(pt))
	ord := 0
	for i, token := range pt {
		if isWildToken(token) {
			ord++
			ordinals[i] = ord
		}
	}

	var (
		acc  []Wildcard
		seen = map[string]bool{}
		j    = len(it) - 1
	)

	for i := len(pt) - 1; 0 <= i; i-- {
		token := pt[i]

		if !isWildToken(token) {
			if 0 <= j && strings.EqualFold(it[j], token) {
				j--
			}
			continue
		}

		// The next literal to the left bounds this wildcard's
		// value.  No such literal means the wildcard consumes
		// the rest of the input.
		var bound string
		for k := i - 1; 0 <= k; k-- {
			if !isWildToken(pt[k]) {
				bound = pt[k]
				break
			}
		}

		var values []string
		for 0 <= j && (bound == "" || !strings.EqualFold(it[j], bound)) {
			values = append([]string{it[j]}, values...)
			j--
		}

		name := wildName(token, ordinals[i])
		if 0 < len(values) && !seen[name] {
			seen[name] = true
			acc = append(acc, Wildcard{
				Name:  name,
				Value: strings.Join(values, " "),
			})
		}
	}

	// The walk ran back to front; report pattern order.
	for l, r := 0, len(acc)-1; l < r; l, r = l+1, r-1 {
		acc[l], acc[r] = acc[r], acc[l]
	}

	return acc
}
