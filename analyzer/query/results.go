// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers point and audit queries over the assembled model
// and the propagation result. The JSON shape of each result type is the
// external contract of the corresponding CLI command.
package query

import (
	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/propagate"
)

// RaisesResult answers `raises <Exception>`.
type RaisesResult struct {
	Exception         string          `json:"exception"`
	IncludeSubclasses bool            `json:"include_subclasses"`
	Sites             []ast.RaiseSite `json:"sites"`
}

// CatchMatch is one catch site matching a catches query, with the caught
// name that matched.
type CatchMatch struct {
	Site ast.CatchSite `json:"site"`

	// MatchedType is the caught name that produced the match.
	MatchedType string `json:"matched_type"`

	// Direct is true for an exact name match and false for every other
	// match: a catch-all clause (MatchedType "*"), a base class of the
	// queried exception, or, when subclasses are included, a subclass of
	// it. The record does not say which of the last two a match is.
	Direct bool `json:"direct"`
}

// CatchesResult answers `catches <Exception>`.
type CatchesResult struct {
	Exception         string       `json:"exception"`
	IncludeSubclasses bool         `json:"include_subclasses"`
	Matches           []CatchMatch `json:"matches"`
}

// CallerEntry is one caller of the queried function.
type CallerEntry struct {
	Caller ast.FunctionKey    `json:"caller"`
	Kind   ast.ResolutionKind `json:"kind"`
	Line   int                `json:"line,omitempty"`
	Depth  int                `json:"depth"`
}

// CallersResult answers `callers <function>`.
type CallersResult struct {
	Function  ast.FunctionKey `json:"function"`
	Mode      propagate.Mode  `json:"mode"`
	Recursive bool            `json:"recursive"`
	Callers   []CallerEntry   `json:"callers"`
}

// EscapeEntry is one exception escaping the queried function, with its
// display evidence.
type EscapeEntry struct {
	Exception  string                     `json:"exception"`
	Confidence propagate.Confidence       `json:"confidence"`
	Origin     ast.RaiseSite              `json:"origin"`
	Path       []propagate.ResolutionEdge `json:"path,omitempty"`
}

// EscapesResult answers `escapes <function>`.
type EscapesResult struct {
	Function ast.FunctionKey `json:"function"`
	Mode     propagate.Mode  `json:"mode"`
	Escapes  []EscapeEntry   `json:"escapes"`
}

// TraceNode is one node of a trace tree.
type TraceNode struct {
	Function     ast.FunctionKey    `json:"function"`
	Kind         ast.ResolutionKind `json:"kind,omitempty"`
	DirectRaises []string           `json:"direct_raises,omitempty"`
	Escapes      []string           `json:"escapes,omitempty"`

	// Revisit marks a function already shown above (cycle break).
	Revisit bool `json:"revisit,omitempty"`

	// Truncated marks a subtree cut by the depth bound.
	Truncated bool `json:"truncated,omitempty"`

	Children []*TraceNode `json:"children,omitempty"`
}

// TraceResult answers `trace <function>`.
type TraceResult struct {
	Function ast.FunctionKey `json:"function"`
	Mode     propagate.Mode  `json:"mode"`
	Root     *TraceNode      `json:"root"`
}

// HierarchyEntry is one class in the exception hierarchy listing.
type HierarchyEntry struct {
	Name    string   `json:"name"`
	Bases   []string `json:"bases,omitempty"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Builtin bool     `json:"builtin,omitempty"`
}

// ExceptionHierarchyResult answers `exceptions`.
type ExceptionHierarchyResult struct {
	Exceptions []HierarchyEntry `json:"exceptions"`
}

// SubclassesResult answers `subclasses <Class>`.
type SubclassesResult struct {
	Class      string   `json:"class"`
	Subclasses []string `json:"subclasses"`
}

// AuditBucket classifies one escaping exception at an entrypoint.
type AuditBucket string

const (
	BucketFrameworkHandled AuditBucket = "framework-handled"
	BucketGlobalHandler    AuditBucket = "global-handler"
	BucketLocalCatch       AuditBucket = "local-catch"
	BucketUncaught         AuditBucket = "uncaught"
)

// AuditedException is one escaping exception at one entrypoint.
type AuditedException struct {
	Exception  string               `json:"exception"`
	Bucket     AuditBucket          `json:"bucket"`
	Confidence propagate.Confidence `json:"confidence"`

	// Response is the framework response for framework-handled escapes.
	Response string `json:"response,omitempty"`

	// Handler names the global handler function for global-handler escapes.
	Handler string `json:"handler,omitempty"`
}

// EntrypointAudit is the audit outcome for one entrypoint.
type EntrypointAudit struct {
	Entrypoint ast.Entrypoint     `json:"entrypoint"`
	Function   ast.FunctionKey    `json:"function,omitempty"`
	Escapes    []AuditedException `json:"escapes,omitempty"`

	// Unresolved is set when the entrypoint's function name could not be
	// resolved to a key; such entrypoints are reported, not audited.
	Unresolved string `json:"unresolved,omitempty"`
}

// Uncaught counts the uncaught escapes at this entrypoint.
func (a *EntrypointAudit) Uncaught() int {
	n := 0
	for _, e := range a.Escapes {
		if e.Bucket == BucketUncaught {
			n++
		}
	}
	return n
}

// AuditResult answers `<framework> audit`.
type AuditResult struct {
	Framework   string            `json:"framework"`
	Mode        propagate.Mode    `json:"mode"`
	Entrypoints []EntrypointAudit `json:"entrypoints"`
	Passed      bool              `json:"passed"`
}

// EntrypointsResult answers `<framework> entrypoints`.
type EntrypointsResult struct {
	Framework   string           `json:"framework"`
	Entrypoints []ast.Entrypoint `json:"entrypoints"`
}

// RouteMatch is one entrypoint an exception can reach.
type RouteMatch struct {
	Entrypoint ast.Entrypoint       `json:"entrypoint"`
	Exception  string               `json:"exception"`
	Confidence propagate.Confidence `json:"confidence"`
}

// RoutesToResult answers `<framework> routes-to <Exception>`.
type RoutesToResult struct {
	Exception         string         `json:"exception"`
	IncludeSubclasses bool           `json:"include_subclasses"`
	Mode              propagate.Mode `json:"mode"`
	Routes            []RouteMatch   `json:"routes"`
}
