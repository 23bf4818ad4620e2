// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package propagate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/model"
)

// MaxIterations bounds the fixpoint loop. Convergence is guaranteed by
// monotonicity over the finite exception-name universe; the guard exists so
// a defect surfaces as a warning instead of a hang.
const MaxIterations = 100

// SessionOption configures a propagation session.
type SessionOption func(*Session)

// WithStubs attaches a stub library used to seed leaf exceptions at call
// sites resolved to stub modules.
func WithStubs(lib stubLookup) SessionOption {
	return func(s *Session) { s.stubs = lib }
}

// WithAsyncBoundaries sets call-site patterns that sever propagation.
func WithAsyncBoundaries(patterns []string) SessionOption {
	return func(s *Session) { s.asyncBoundaries = patterns }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Session owns propagation state for one assembled model.
//
// Description:
//
//	Results are computed lazily on first request and memoized per mode.
//	The memo is scoped to the session; rebuilding the model means building
//	a new session. There are no process-wide singletons.
//
// Thread Safety: Result is safe for concurrent use; the memo is locked.
type Session struct {
	model           *model.Program
	stubs           stubLookup
	asyncBoundaries []string
	logger          *slog.Logger

	mu   sync.Mutex
	memo map[Mode]*Result
}

// NewSession creates a propagation session over a frozen model.
func NewSession(m *model.Program, opts ...SessionOption) *Session {
	s := &Session{
		model: m,
		memo:  make(map[Mode]*Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Result returns the propagation result for a mode, computing it on first
// use.
func (s *Session) Result(mode Mode) *Result {
	eff := mode.effective()
	s.mu.Lock()
	if r, ok := s.memo[eff]; ok {
		s.mu.Unlock()
		return r
	}
	s.mu.Unlock()

	r := s.propagate(eff)

	s.mu.Lock()
	s.memo[eff] = r
	s.mu.Unlock()
	return r
}

// propagate runs graph construction and the fixpoint for one mode.
func (s *Session) propagate(mode Mode) *Result {
	start := time.Now()
	m := s.model

	g := buildGraph(m, s.stubs, s.asyncBoundaries)
	n := len(g.keys)

	caught := s.catchSets()
	escape := make([]map[string]*PropagatedRaise, n)
	for i := range escape {
		escape[i] = make(map[string]*PropagatedRaise)
	}

	// Initial state: direct raises minus the local catch set.
	for _, site := range m.Raises {
		if site.IsReraise || site.ExceptionType == "" {
			continue
		}
		id, ok := g.index[site.Function]
		if !ok {
			continue
		}
		if caught[site.Function].Contains(site.ExceptionType) {
			continue
		}
		if _, exists := escape[id][site.ExceptionType]; !exists {
			escape[id][site.ExceptionType] = &PropagatedRaise{
				Origin:     site,
				Confidence: ConfidenceHigh,
			}
		}
	}

	// Stub contributions are leaves seeded once.
	for callerID, edges := range g.edges {
		callerKey := g.keys[callerID]
		for _, edge := range edges {
			if len(edge.stubExcs) == 0 {
				continue
			}
			hop := ResolutionEdge{
				Caller: callerKey,
				Callee: ast.FunctionKey(edge.stubName),
				Kind:   ast.ResolutionStub,
				Line:   edge.site.Line,
			}
			for _, exc := range edge.stubExcs {
				if caught[callerKey].Contains(exc) {
					continue
				}
				if _, exists := escape[callerID][exc]; exists {
					continue
				}
				escape[callerID][exc] = &PropagatedRaise{
					Origin: ast.RaiseSite{
						File:          edge.site.File,
						Line:          edge.site.Line,
						Function:      callerKey,
						ExceptionType: exc,
					},
					Path:       []ResolutionEdge{hop},
					Confidence: ConfidenceHigh,
				}
			}
		}
	}

	// Worklist fixpoint: a caller is revisited only when one of its
	// callees changed in the previous round.
	pending := make([]bool, n)
	for i := range pending {
		pending[i] = len(g.edges[i]) > 0
	}

	iterations := 0
	converged := false
	for iterations < MaxIterations {
		iterations++
		next := make([]bool, n)
		changedAny := false

		for callerID := 0; callerID < n; callerID++ {
			if !pending[callerID] {
				continue
			}
			if s.propagateInto(g, mode, caught, escape, callerID) {
				changedAny = true
				for _, upstream := range g.callersOf[callerID] {
					next[upstream] = true
				}
			}
		}

		if !changedAny {
			converged = true
			break
		}
		pending = next
	}

	if !converged {
		s.logger.Warn("propagation did not converge within the iteration guard",
			slog.Int("iterations", iterations),
			slog.String("mode", string(mode)))
	}

	result := &Result{
		Mode:       mode,
		Escapes:    make(map[ast.FunctionKey]map[string]*PropagatedRaise, n),
		Caught:     caught,
		Graph:      g.resolvedGraph(),
		Converged:  converged,
		Iterations: iterations,
	}
	for id, excs := range escape {
		if len(excs) > 0 {
			result.Escapes[g.keys[id]] = excs
		}
	}

	s.logger.Info("propagation complete",
		slog.String("mode", string(mode)),
		slog.Int("functions", n),
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result
}

// propagateInto folds callee escape sets into one caller, returning whether
// the caller's escape set grew.
func (s *Session) propagateInto(g *graph, mode Mode, caught map[ast.FunctionKey]*CatchSet, escape []map[string]*PropagatedRaise, callerID int) bool {
	callerKey := g.keys[callerID]
	callerCaught := caught[callerKey]
	grew := false

	for _, edge := range g.edges[callerID] {
		for _, cand := range edge.candidates {
			if mode == ModeStrict && cand.heuristic {
				continue
			}
			hop := ResolutionEdge{
				Caller:    callerKey,
				Callee:    g.keys[cand.id],
				Kind:      cand.kind,
				Heuristic: cand.heuristic,
				Line:      edge.site.Line,
			}
			for exc, prior := range escape[cand.id] {
				if callerCaught.Contains(exc) {
					continue
				}
				path := make([]ResolutionEdge, 0, len(prior.Path)+1)
				path = append(path, hop)
				path = append(path, prior.Path...)
				next := &PropagatedRaise{
					Origin:     prior.Origin,
					Path:       path,
					Confidence: pathConfidence(path),
				}

				existing, present := escape[callerID][exc]
				if !present {
					escape[callerID][exc] = next
					grew = true
					continue
				}
				// Keep the evidence with the lowest hop count; break ties
				// toward higher confidence.
				if len(next.Path) < len(existing.Path) ||
					(len(next.Path) == len(existing.Path) && next.Confidence.rank() > existing.Confidence.rank()) {
					escape[callerID][exc] = next
				}
			}
		}
	}
	return grew
}

// catchSets precomputes each function's expanded local catch set. Clauses
// that re-raise their caught exception are excluded: what they catch still
// escapes.
func (s *Session) catchSets() map[ast.FunctionKey]*CatchSet {
	m := s.model
	sets := make(map[ast.FunctionKey]*CatchSet)

	for _, site := range m.Catches {
		if site.Reraises {
			continue
		}
		set := sets[site.Function]
		if set == nil {
			set = &CatchSet{Types: make(map[string]bool)}
			sets[site.Function] = set
		}
		for _, caughtType := range site.CaughtTypes {
			if caughtType == ast.CatchAll {
				set.All = true
				continue
			}
			set.Types[caughtType] = true
			for _, sub := range m.Hierarchy.Subclasses(caughtType) {
				set.Types[sub] = true
			}
		}
	}
	return sets
}
