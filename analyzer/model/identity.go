// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// Sentinel errors for boundary name resolution.
var (
	ErrFunctionNotFound  = errors.New("function not found")
	ErrAmbiguousFunction = errors.New("ambiguous function name")
)

// FunctionNotFoundError reports a name no FunctionKey matches, with
// close-match suggestions.
type FunctionNotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *FunctionNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("function %q not found", e.Name)
	}
	return fmt.Sprintf("function %q not found (did you mean: %s)", e.Name, strings.Join(e.Suggestions, ", "))
}

func (e *FunctionNotFoundError) Unwrap() error { return ErrFunctionNotFound }

// AmbiguousFunctionError reports a name matching several keys; the caller
// must disambiguate with a full key or a class-qualified name.
type AmbiguousFunctionError struct {
	Name    string
	Matches []ast.FunctionKey
}

func (e *AmbiguousFunctionError) Error() string {
	parts := make([]string, len(e.Matches))
	for i, k := range e.Matches {
		parts[i] = string(k)
	}
	return fmt.Sprintf("function %q is ambiguous: %s", e.Name, strings.Join(parts, ", "))
}

func (e *AmbiguousFunctionError) Unwrap() error { return ErrAmbiguousFunction }

// minSuggestionSimilarity is the cutoff for close-match suggestions.
const minSuggestionSimilarity = 0.5

// maxSuggestions caps the suggestion list.
const maxSuggestions = 3

// ResolveFunctionKey resolves a user-supplied name to a canonical
// FunctionKey.
//
// Description:
//
//	Accepts three shapes: a full "file::qualified" key present in the
//	function table; a bare or class-qualified name with exactly one index
//	entry; or an ambiguous/unknown name, which fails with a typed error.
//	Resolution happens only at system boundaries (CLI arguments,
//	entrypoint consumption); internal structures key on full keys.
//
// Outputs:
//   - ast.FunctionKey: The resolved key.
//   - error: *FunctionNotFoundError (with edit-distance suggestions) or
//     *AmbiguousFunctionError.
func ResolveFunctionKey(name string, m *Program) (ast.FunctionKey, error) {
	if key := ast.FunctionKey(name); key.IsFull() {
		if _, ok := m.Functions[key]; ok {
			return key, nil
		}
		return "", &FunctionNotFoundError{Name: name, Suggestions: m.suggest(key.Qualified())}
	}

	keys := m.NameToKeys[name]
	switch len(keys) {
	case 0:
		return "", &FunctionNotFoundError{Name: name, Suggestions: m.suggest(name)}
	case 1:
		return keys[0], nil
	default:
		return "", &AmbiguousFunctionError{Name: name, Matches: append([]ast.FunctionKey(nil), keys...)}
	}
}

// suggest computes the top close matches to name over all indexed names.
func (m *Program) suggest(name string) []string {
	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for known := range m.NameToKeys {
		s := similarity(name, known)
		if s >= minSuggestionSimilarity {
			candidates = append(candidates, scored{name: known, score: s})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

// similarity maps Levenshtein distance to [0,1]: 1 is identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

// levenshteinDistance computes the edit distance between two strings using
// the two-row dynamic programming form.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
