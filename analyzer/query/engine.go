// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"sort"

	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/model"
	"github.com/AleutianAI/exctrace/analyzer/propagate"
)

// DefaultTraceDepth bounds trace trees when no depth is configured.
const DefaultTraceDepth = 12

// Engine answers queries over one model and its propagation session.
//
// Thread Safety: Safe for concurrent use; all state is read-only or owned
// by the memoizing session.
type Engine struct {
	model   *model.Program
	session *propagate.Session

	// TraceDepth bounds trace trees; zero means DefaultTraceDepth.
	TraceDepth int
}

// NewEngine creates a query engine.
func NewEngine(m *model.Program, session *propagate.Session) *Engine {
	return &Engine{model: m, session: session}
}

// Model exposes the underlying program model.
func (e *Engine) Model() *model.Program { return e.model }

// Resolve maps a user-supplied function name to a key.
func (e *Engine) Resolve(name string) (ast.FunctionKey, error) {
	return model.ResolveFunctionKey(name, e.model)
}

// FindRaises collects the raise sites of an exception type, optionally
// including raises of its subclasses.
func (e *Engine) FindRaises(excName string, includeSubclasses bool) *RaisesResult {
	res := &RaisesResult{Exception: excName, IncludeSubclasses: includeSubclasses}
	for _, site := range e.model.Raises {
		if site.IsReraise {
			continue
		}
		if site.ExceptionType == excName ||
			(includeSubclasses && e.model.Hierarchy.IsSubclassOf(site.ExceptionType, excName)) {
			res.Sites = append(res.Sites, site)
		}
	}
	return res
}

// FindCatches collects the catch sites that would handle an exception type.
// A site matches on the exact name, on a catch-all clause, or because it
// catches a base class of the queried exception (catching a base catches
// subclasses); with includeSubclasses it also matches when it catches a
// subclass of the queried exception.
func (e *Engine) FindCatches(excName string, includeSubclasses bool) *CatchesResult {
	res := &CatchesResult{Exception: excName, IncludeSubclasses: includeSubclasses}
	for _, site := range e.model.Catches {
		for _, caught := range site.CaughtTypes {
			switch {
			case caught == excName:
				res.Matches = append(res.Matches, CatchMatch{Site: site, MatchedType: caught, Direct: true})
			case caught == ast.CatchAll:
				res.Matches = append(res.Matches, CatchMatch{Site: site, MatchedType: caught})
			case e.model.Hierarchy.IsSubclassOf(excName, caught):
				res.Matches = append(res.Matches, CatchMatch{Site: site, MatchedType: caught})
			case includeSubclasses && e.model.Hierarchy.IsSubclassOf(caught, excName):
				// The site catches a subclass of the queried type.
				res.Matches = append(res.Matches, CatchMatch{Site: site, MatchedType: caught})
			default:
				continue
			}
			break
		}
	}
	return res
}

// FindCallers walks the reverse call graph from a function. Heuristic
// (name-fallback, polymorphic) edges are omitted in strict mode.
func (e *Engine) FindCallers(key ast.FunctionKey, mode propagate.Mode, recursive bool) *CallersResult {
	result := e.session.Result(mode)
	res := &CallersResult{Function: key, Mode: mode, Recursive: recursive}

	seen := map[ast.FunctionKey]bool{key: true}
	type frame struct {
		key   ast.FunctionKey
		depth int
	}
	queue := []frame{{key: key, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range result.Graph.Reverse[cur.key] {
			if mode == propagate.ModeStrict && isHeuristicKind(edge.Kind) {
				continue
			}
			entry := CallerEntry{
				Caller: edge.From,
				Kind:   edge.Kind,
				Line:   edge.Line,
				Depth:  cur.depth + 1,
			}
			res.Callers = append(res.Callers, entry)
			if recursive && !seen[edge.From] {
				seen[edge.From] = true
				queue = append(queue, frame{key: edge.From, depth: cur.depth + 1})
			}
		}
	}

	sort.Slice(res.Callers, func(i, j int) bool {
		a, b := res.Callers[i], res.Callers[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.Caller < b.Caller
	})
	return res
}

// FindEscapes reports the exceptions escaping a function, with evidence.
func (e *Engine) FindEscapes(key ast.FunctionKey, mode propagate.Mode) *EscapesResult {
	result := e.session.Result(mode)
	res := &EscapesResult{Function: key, Mode: mode}
	for _, exc := range result.Escaping(key) {
		evidence, _ := result.Evidence(key, exc)
		res.Escapes = append(res.Escapes, EscapeEntry{
			Exception:  exc,
			Confidence: evidence.Confidence,
			Origin:     evidence.Origin,
			Path:       evidence.Path,
		})
	}
	return res
}

// Trace produces the annotated call tree under a function. Cycles yield
// revisit stubs; depth is bounded by TraceDepth.
func (e *Engine) Trace(key ast.FunctionKey, mode propagate.Mode) *TraceResult {
	result := e.session.Result(mode)
	depth := e.TraceDepth
	if depth <= 0 {
		depth = DefaultTraceDepth
	}

	visited := make(map[ast.FunctionKey]bool)
	root := e.traceNode(result, key, "", visited, depth, mode)
	return &TraceResult{Function: key, Mode: mode, Root: root}
}

func (e *Engine) traceNode(result *propagate.Result, key ast.FunctionKey, kind ast.ResolutionKind, visited map[ast.FunctionKey]bool, depth int, mode propagate.Mode) *TraceNode {
	node := &TraceNode{
		Function:     key,
		Kind:         kind,
		DirectRaises: e.directRaises(key),
		Escapes:      result.Escaping(key),
	}
	if visited[key] {
		node.Revisit = true
		return node
	}
	if depth == 0 {
		node.Truncated = true
		return node
	}

	visited[key] = true
	edges := append([]propagate.ResolvedEdge(nil), result.Graph.Forward[key]...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Line != edges[j].Line {
			return edges[i].Line < edges[j].Line
		}
		return edges[i].To < edges[j].To
	})
	for _, edge := range edges {
		if mode == propagate.ModeStrict && isHeuristicKind(edge.Kind) {
			continue
		}
		node.Children = append(node.Children, e.traceNode(result, edge.To, edge.Kind, visited, depth-1, mode))
	}
	delete(visited, key)
	return node
}

// directRaises lists the distinct exception names raised directly in a
// function, sorted.
func (e *Engine) directRaises(key ast.FunctionKey) []string {
	seen := map[string]bool{}
	var out []string
	for _, site := range e.model.Raises {
		if site.Function != key || site.IsReraise || site.ExceptionType == "" {
			continue
		}
		if !seen[site.ExceptionType] {
			seen[site.ExceptionType] = true
			out = append(out, site.ExceptionType)
		}
	}
	sort.Strings(out)
	return out
}

// ExceptionHierarchy lists every known exception type, project classes
// first-class with location, seeded builtins flagged.
func (e *Engine) ExceptionHierarchy() *ExceptionHierarchyResult {
	res := &ExceptionHierarchyResult{}
	names := append([]string{"Exception"}, e.model.Hierarchy.ExceptionTypes()...)
	for _, name := range names {
		entry := HierarchyEntry{Name: name, Bases: e.model.Hierarchy.Bases(name)}
		if cls, ok := e.model.Classes[name]; ok {
			entry.File = cls.File
			entry.Line = cls.Line
		} else {
			entry.Builtin = true
		}
		res.Exceptions = append(res.Exceptions, entry)
	}
	return res
}

// Subclasses lists the transitive subclasses of a class.
func (e *Engine) Subclasses(className string) *SubclassesResult {
	return &SubclassesResult{
		Class:      className,
		Subclasses: e.model.Hierarchy.Subclasses(className),
	}
}

// RoutesTo reports which entrypoints an exception can escape from.
func (e *Engine) RoutesTo(framework string, excName string, includeSubclasses bool, mode propagate.Mode) *RoutesToResult {
	result := e.session.Result(mode)
	res := &RoutesToResult{
		Exception:         excName,
		IncludeSubclasses: includeSubclasses,
		Mode:              mode,
	}
	for _, ep := range e.model.Entrypoints {
		if framework != "" && ep.Metadata["framework"] != framework {
			continue
		}
		key, ok := e.resolveEntrypoint(ep)
		if !ok {
			continue
		}
		for _, exc := range result.Escaping(key) {
			if exc == excName || (includeSubclasses && e.model.Hierarchy.IsSubclassOf(exc, excName)) {
				evidence, _ := result.Evidence(key, exc)
				res.Routes = append(res.Routes, RouteMatch{
					Entrypoint: ep,
					Exception:  exc,
					Confidence: evidence.Confidence,
				})
			}
		}
	}
	return res
}

// Entrypoints lists detected entrypoints, optionally filtered by framework.
func (e *Engine) Entrypoints(framework string) *EntrypointsResult {
	res := &EntrypointsResult{Framework: framework}
	for _, ep := range e.model.Entrypoints {
		if framework == "" || ep.Metadata["framework"] == framework {
			res.Entrypoints = append(res.Entrypoints, ep)
		}
	}
	return res
}

// resolveEntrypoint maps an entrypoint's written function name to a key.
// The entrypoint's own file is tried first; the global index second.
func (e *Engine) resolveEntrypoint(ep ast.Entrypoint) (ast.FunctionKey, bool) {
	key := ast.MakeFunctionKey(ep.File, ep.Function)
	if _, ok := e.model.Functions[key]; ok {
		return key, true
	}
	resolved, err := model.ResolveFunctionKey(ep.Function, e.model)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func isHeuristicKind(kind ast.ResolutionKind) bool {
	return kind == ast.ResolutionNameFallback || kind == ast.ResolutionPolymorphic
}
