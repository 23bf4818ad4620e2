// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package propagate builds the whole-program call graph and computes, by
// monotonic fixpoint iteration, the set of exception types escaping each
// function, with call-path evidence and confidence labels.
package propagate

import (
	"sort"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// Mode selects how aggressively unresolved calls are expanded.
type Mode string

const (
	// ModeStrict drops name-fallback and polymorphic edges.
	ModeStrict Mode = "strict"

	// ModeDefault keeps heuristic edges with low confidence.
	ModeDefault Mode = "default"

	// ModeAggressive is treated as ModeDefault; the fuzzy stem expansion
	// it once named never earned its keep.
	ModeAggressive Mode = "aggressive"
)

// ParseMode maps a user string to a Mode, defaulting to ModeDefault.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStrict:
		return ModeStrict
	case ModeAggressive:
		return ModeAggressive
	default:
		return ModeDefault
	}
}

// effective collapses aggressive into default for propagation decisions.
func (m Mode) effective() Mode {
	if m == ModeAggressive {
		return ModeDefault
	}
	if m == ModeStrict {
		return ModeStrict
	}
	return ModeDefault
}

// Confidence labels how trustworthy a propagated raise is, derived from the
// resolution kinds along its call path.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidences for tie-breaking (higher is better).
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// ResolutionEdge is one hop of a propagation path.
type ResolutionEdge struct {
	Caller ast.FunctionKey    `json:"caller"`
	Callee ast.FunctionKey    `json:"callee"`
	Kind   ast.ResolutionKind `json:"kind"`

	// Heuristic marks hops the extractor could not resolve (name fallback,
	// polymorphic expansion).
	Heuristic bool `json:"heuristic,omitempty"`

	Line int `json:"line,omitempty"`
}

// PropagatedRaise is the evidence for one exception escaping one function:
// the originating raise site and the call path it traveled.
type PropagatedRaise struct {
	Origin     ast.RaiseSite    `json:"origin"`
	Path       []ResolutionEdge `json:"path,omitempty"`
	Confidence Confidence       `json:"confidence"`
}

// pathConfidence derives the confidence label from the kinds on a path.
func pathConfidence(path []ResolutionEdge) Confidence {
	sawReturnType := false
	for _, edge := range path {
		switch edge.Kind {
		case ast.ResolutionNameFallback, ast.ResolutionPolymorphic:
			return ConfidenceLow
		case ast.ResolutionReturnType:
			sawReturnType = true
		}
	}
	if sawReturnType {
		return ConfidenceMedium
	}
	return ConfidenceHigh
}

// CatchSet is a function's expanded local catch set: each caught class plus
// all its known subclasses, with the catch-all sentinel folded in.
type CatchSet struct {
	All   bool
	Types map[string]bool
}

// Contains reports whether the set catches the exception name.
func (c *CatchSet) Contains(exc string) bool {
	if c == nil {
		return false
	}
	if c.All {
		return true
	}
	return c.Types[exc]
}

// Result is the propagation outcome for one mode.
//
// Description:
//
//	Escapes maps each function to its escaping exception names with the
//	display evidence (shortest path; ties broken by confidence). Caught
//	holds the precomputed per-function catch sets. Converged is false
//	when the iteration guard fired; the best monotone state reached is
//	still returned.
type Result struct {
	Mode       Mode
	Escapes    map[ast.FunctionKey]map[string]*PropagatedRaise
	Caught     map[ast.FunctionKey]*CatchSet
	Graph      *CallGraph
	Converged  bool
	Iterations int
}

// Escaping returns the sorted escaping exception names for a function.
func (r *Result) Escaping(key ast.FunctionKey) []string {
	m := r.Escapes[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for exc := range m {
		out = append(out, exc)
	}
	sort.Strings(out)
	return out
}

// Evidence returns the display evidence for one escaping exception.
func (r *Result) Evidence(key ast.FunctionKey, exc string) (*PropagatedRaise, bool) {
	pr, ok := r.Escapes[key][exc]
	return pr, ok
}

// ResolvedEdge is one resolved call-graph edge, as exposed to queries.
type ResolvedEdge struct {
	From ast.FunctionKey    `json:"from"`
	To   ast.FunctionKey    `json:"to"`
	Kind ast.ResolutionKind `json:"kind"`
	File string             `json:"file,omitempty"`
	Line int                `json:"line,omitempty"`
}

// CallGraph is the expanded call graph used by trace and callers queries.
type CallGraph struct {
	// Forward maps caller -> outgoing resolved edges, sorted by
	// (line, callee).
	Forward map[ast.FunctionKey][]ResolvedEdge

	// Reverse maps callee -> incoming edges.
	Reverse map[ast.FunctionKey][]ResolvedEdge
}
