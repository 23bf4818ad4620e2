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
	"path"
	"strings"

	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/model"
)

// candidate is one possible concrete callee for a call site.
type candidate struct {
	id        int
	kind      ast.ResolutionKind
	heuristic bool
}

// expandedEdge is a call site with its precomputed candidate set and any
// stub contribution. Candidate expansion is static: it depends only on the
// frozen model, never on the evolving escape state.
type expandedEdge struct {
	site       ast.CallSite
	candidates []candidate
	stubName   string   // qualified name that matched a stub, for evidence
	stubExcs   []string // exceptions contributed by the stub
}

// graph is the propagation-internal call graph: functions as dense integer
// ids, adjacency as expanded edges per caller id.
type graph struct {
	keys  []ast.FunctionKey
	index map[ast.FunctionKey]int

	// edges[callerID] lists that function's outgoing expanded edges.
	edges [][]expandedEdge

	// callersOf[calleeID] lists caller ids with an edge reaching calleeID,
	// for worklist scheduling.
	callersOf [][]int
}

// buildGraph expands every call site of the model against the function
// table, the module index, the class hierarchy, and the stub library.
func buildGraph(m *model.Program, lib stubLookup, asyncBoundaries []string) *graph {
	keys := m.FunctionKeys()
	g := &graph{
		keys:  keys,
		index: make(map[ast.FunctionKey]int, len(keys)),
	}
	for i, k := range keys {
		g.index[k] = i
	}
	g.edges = make([][]expandedEdge, len(keys))
	g.callersOf = make([][]int, len(keys))

	for _, site := range m.Calls {
		callerID, ok := g.index[site.Caller]
		if !ok {
			continue
		}
		if severedByAsyncBoundary(site, asyncBoundaries) {
			continue
		}

		edge := expandedEdge{site: site}
		edge.candidates = expandCallee(m, g.index, site)

		if lib != nil {
			qualified := site.Callee
			if qualified == "" || strings.Contains(qualified, ast.KeySeparator) {
				qualified = site.CalleeBareName
			}
			if excs := lib.Get(qualified, site.CalleeBareName); len(excs) > 0 {
				edge.stubName = qualified
				edge.stubExcs = excs
			}
		}

		if len(edge.candidates) == 0 && len(edge.stubExcs) == 0 {
			continue
		}
		g.edges[callerID] = append(g.edges[callerID], edge)
		for _, cand := range edge.candidates {
			g.callersOf[cand.id] = append(g.callersOf[cand.id], callerID)
		}
	}
	return g
}

// stubLookup is the slice of the stub library the graph needs.
type stubLookup interface {
	Get(qualifiedName, bareName string) []string
}

// severedByAsyncBoundary reports whether the call site matches a configured
// async-boundary pattern and must not propagate exceptions.
func severedByAsyncBoundary(site ast.CallSite, patterns []string) bool {
	for _, pat := range patterns {
		if pat == site.CalleeBareName {
			return true
		}
		if ok, err := path.Match(pat, site.CalleeBareName); err == nil && ok {
			return true
		}
	}
	return false
}

// expandCallee resolves a call site's callee reference to zero or more
// candidate function ids.
//
// Description:
//
//	A full key resolves to itself when present, otherwise through the
//	class hierarchy (method lookup on ancestors keeps the extraction
//	kind; expansion over subclasses is polymorphic). A dotted module
//	reference resolves through the module index. Anything still
//	unresolved falls back to the simple-name index: one match is
//	name_fallback, several are polymorphic for method calls.
func expandCallee(m *model.Program, index map[ast.FunctionKey]int, site ast.CallSite) []candidate {
	ref := site.Callee

	if ref != "" && strings.Contains(ref, ast.KeySeparator) {
		key := ast.FunctionKey(ref)
		if id, ok := index[key]; ok {
			return []candidate{{id: id, kind: site.Resolution}}
		}
		if cands := expandMethodViaHierarchy(m, index, key.File(), key.Qualified(), site.Resolution); len(cands) > 0 {
			return cands
		}
		return expandByName(m, index, site)
	}

	if ref != "" {
		if cands := expandModuleRef(m, index, ref, site.Resolution); len(cands) > 0 {
			return cands
		}
		return expandByName(m, index, site)
	}

	return expandByName(m, index, site)
}

// expandModuleRef resolves a dotted reference like "pkg.mod.f" or
// "pkg.mod.Class.m" through the module-path index.
func expandModuleRef(m *model.Program, index map[ast.FunctionKey]int, ref string, kind ast.ResolutionKind) []candidate {
	segments := strings.Split(ref, ".")
	// Longest module prefix wins: "pkg.mod" before "pkg".
	for cut := len(segments) - 1; cut >= 1; cut-- {
		modPath := strings.Join(segments[:cut], ".")
		file, ok := m.ModuleFiles[modPath]
		if !ok {
			continue
		}
		qualified := strings.Join(segments[cut:], ".")
		if id, ok := index[ast.MakeFunctionKey(file, qualified)]; ok {
			return []candidate{{id: id, kind: kind}}
		}
		// Constructing an imported class calls its __init__.
		if cls, ok := m.Classes[qualified]; ok && cls.File == file {
			if id, ok := index[ast.MakeFunctionKey(file, qualified+".__init__")]; ok {
				return []candidate{{id: id, kind: ast.ResolutionConstructor}}
			}
			return nil // class with no __init__ contributes nothing
		}
		return expandMethodViaHierarchy(m, index, file, qualified, kind)
	}
	return nil
}

// expandMethodViaHierarchy resolves "Class.method" when the class does not
// define the method itself: ancestors first (inherited implementation,
// extraction kind kept), then subclasses (overrides, polymorphic).
func expandMethodViaHierarchy(m *model.Program, index map[ast.FunctionKey]int, file, qualified string, kind ast.ResolutionKind) []candidate {
	dot := strings.LastIndex(qualified, ".")
	if dot < 0 {
		return nil
	}
	className, method := qualified[:dot], qualified[dot+1:]
	if _, ok := m.Classes[className]; !ok {
		return nil
	}

	// Walk ancestors breadth-first for the inherited implementation.
	seen := map[string]bool{className: true}
	queue := append([]string(nil), m.Hierarchy.Bases(className)...)
	for len(queue) > 0 {
		base := queue[0]
		queue = queue[1:]
		if seen[base] {
			continue
		}
		seen[base] = true
		cls, ok := m.Classes[base]
		if !ok {
			continue // unresolved base: a root of its own
		}
		if id, ok := index[ast.MakeFunctionKey(cls.File, cls.Qualified+"."+method)]; ok {
			return []candidate{{id: id, kind: kind}}
		}
		queue = append(queue, m.Hierarchy.Bases(base)...)
	}

	// Overrides in subclasses: polymorphic expansion.
	var cands []candidate
	for _, sub := range m.Hierarchy.Subclasses(className) {
		cls, ok := m.Classes[sub]
		if !ok {
			continue
		}
		if id, ok := index[ast.MakeFunctionKey(cls.File, cls.Qualified+"."+method)]; ok {
			cands = append(cands, candidate{id: id, kind: ast.ResolutionPolymorphic, heuristic: true})
		}
	}
	return cands
}

// expandByName applies the simple-name fallback of §4.7.
func expandByName(m *model.Program, index map[ast.FunctionKey]int, site ast.CallSite) []candidate {
	name := site.CalleeBareName
	if name == "" || name == ast.ModuleFunctionName {
		return nil
	}
	keys := m.NameToKeys[name]
	if len(keys) == 0 {
		return nil
	}

	kind := ast.ResolutionNameFallback
	if len(keys) > 1 && site.IsMethodCall {
		kind = ast.ResolutionPolymorphic
	}
	var cands []candidate
	for _, key := range keys {
		if key == site.Caller {
			continue // a bare name never means "myself"
		}
		if id, ok := index[key]; ok {
			cands = append(cands, candidate{id: id, kind: kind, heuristic: true})
		}
	}
	return cands
}

// resolvedGraph converts the internal graph into the query-facing CallGraph
// with string keys and per-edge kinds.
func (g *graph) resolvedGraph() *CallGraph {
	cg := &CallGraph{
		Forward: make(map[ast.FunctionKey][]ResolvedEdge),
		Reverse: make(map[ast.FunctionKey][]ResolvedEdge),
	}
	for callerID, edges := range g.edges {
		from := g.keys[callerID]
		for _, edge := range edges {
			for _, cand := range edge.candidates {
				re := ResolvedEdge{
					From: from,
					To:   g.keys[cand.id],
					Kind: cand.kind,
					File: edge.site.File,
					Line: edge.site.Line,
				}
				cg.Forward[from] = append(cg.Forward[from], re)
				cg.Reverse[re.To] = append(cg.Reverse[re.To], re)
			}
		}
	}
	return cg
}
