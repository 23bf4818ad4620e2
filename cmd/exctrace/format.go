// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/exctrace/analyzer/model"
	"github.com/AleutianAI/exctrace/analyzer/query"
)

// ANSI styles, used only when stdout is a terminal.
var useColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func bold(s string) string {
	if !useColor {
		return s
	}
	return "\x1b[1m" + s + "\x1b[0m"
}

func red(s string) string {
	if !useColor {
		return s
	}
	return "\x1b[31m" + s + "\x1b[0m"
}

func dim(s string) string {
	if !useColor {
		return s
	}
	return "\x1b[2m" + s + "\x1b[0m"
}

// emit renders a result record in the selected output format. The JSON
// shape of each record is the stable external contract; text output is for
// humans only.
func emit(v any) error {
	if flagFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch r := v.(type) {
	case *query.RaisesResult:
		fmt.Printf("%s raised at %d site(s):\n", bold(r.Exception), len(r.Sites))
		for _, s := range r.Sites {
			fmt.Printf("  %s:%d  %s  (%s)\n", s.File, s.Line, s.Function.Qualified(), s.ExceptionType)
		}
	case *query.CatchesResult:
		fmt.Printf("%s handled at %d site(s):\n", bold(r.Exception), len(r.Matches))
		for _, m := range r.Matches {
			how := "exact"
			switch {
			case m.Direct:
			case m.MatchedType == "*":
				how = "catch-all"
			case !r.IncludeSubclasses:
				how = fmt.Sprintf("via base %s", m.MatchedType)
			default:
				how = fmt.Sprintf("via %s", m.MatchedType)
			}
			fmt.Printf("  %s:%d  %s  [%s]\n", m.Site.File, m.Site.Line, m.Site.Function.Qualified(), how)
		}
	case *query.CallersResult:
		fmt.Printf("callers of %s:\n", bold(string(r.Function)))
		for _, c := range r.Callers {
			fmt.Printf("  %s%s  %s\n", strings.Repeat("  ", c.Depth-1), c.Caller, dim(string(c.Kind)))
		}
	case *query.EscapesResult:
		fmt.Printf("escapes from %s:\n", bold(string(r.Function)))
		if len(r.Escapes) == 0 {
			fmt.Println("  (none)")
		}
		for _, e := range r.Escapes {
			fmt.Printf("  %s  confidence=%s  raised at %s:%d\n",
				red(e.Exception), e.Confidence, e.Origin.File, e.Origin.Line)
			for _, hop := range e.Path {
				fmt.Printf("    %s -> %s  %s\n", hop.Caller.Qualified(), hop.Callee.Qualified(), dim(string(hop.Kind)))
			}
		}
	case *query.TraceResult:
		printTraceNode(r.Root, 0)
	case *query.ExceptionHierarchyResult:
		for _, e := range r.Exceptions {
			origin := "builtin"
			if !e.Builtin {
				origin = fmt.Sprintf("%s:%d", e.File, e.Line)
			}
			fmt.Printf("%s  (%s)", bold(e.Name), origin)
			if len(e.Bases) > 0 {
				fmt.Printf("  <- %s", strings.Join(e.Bases, ", "))
			}
			fmt.Println()
		}
	case *query.SubclassesResult:
		fmt.Printf("subclasses of %s:\n", bold(r.Class))
		for _, s := range r.Subclasses {
			fmt.Printf("  %s\n", s)
		}
	case model.Stats:
		fmt.Printf("files:            %d\n", r.Files)
		fmt.Printf("functions:        %d\n", r.Functions)
		fmt.Printf("classes:          %d\n", r.Classes)
		fmt.Printf("exception types:  %d\n", r.ExceptionTypes)
		fmt.Printf("raise sites:      %d\n", r.Raises)
		fmt.Printf("catch sites:      %d\n", r.Catches)
		fmt.Printf("call sites:       %d (%.0f%% resolved)\n", r.Calls, r.ResolutionRate*100)
		fmt.Printf("entrypoints:      %d\n", r.Entrypoints)
		fmt.Printf("global handlers:  %d\n", r.GlobalHandlers)
		fmt.Printf("diagnostics:      %d\n", r.Diagnostics)
	case *query.AuditResult:
		for _, ep := range r.Entrypoints {
			label := entrypointLabel(ep.Entrypoint.Metadata, ep.Entrypoint.Function)
			fmt.Printf("%s  (%s:%d)\n", bold(label), ep.Entrypoint.File, ep.Entrypoint.Line)
			if ep.Unresolved != "" {
				fmt.Printf("  %s\n", dim(ep.Unresolved))
				continue
			}
			if len(ep.Escapes) == 0 {
				fmt.Println("  no escaping exceptions")
			}
			for _, exc := range ep.Escapes {
				line := fmt.Sprintf("  %s  %s  confidence=%s", exc.Exception, exc.Bucket, exc.Confidence)
				if exc.Bucket == query.BucketUncaught {
					line = red(line)
				}
				fmt.Println(line)
			}
		}
		verdict := "PASS"
		if !r.Passed {
			verdict = red("FAIL")
		}
		fmt.Printf("\naudit: %s (%d entrypoint(s))\n", verdict, len(r.Entrypoints))
	case *query.EntrypointsResult:
		for _, ep := range r.Entrypoints {
			fmt.Printf("%s  %s  (%s:%d)\n",
				bold(entrypointLabel(ep.Metadata, ep.Function)), ep.Kind, ep.File, ep.Line)
		}
	case *query.RoutesToResult:
		fmt.Printf("routes reachable by %s:\n", bold(r.Exception))
		for _, m := range r.Routes {
			fmt.Printf("  %s  via %s  confidence=%s\n",
				entrypointLabel(m.Entrypoint.Metadata, m.Entrypoint.Function), m.Exception, m.Confidence)
		}
	default:
		// Fallback: stable JSON for types without a text renderer.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

// entrypointLabel renders "GET /path" style labels with a fallback to the
// function name.
func entrypointLabel(meta map[string]string, function string) string {
	method, path := meta["method"], meta["path"]
	switch {
	case method != "" && path != "":
		return method + " " + path
	case path != "":
		return path
	default:
		return function
	}
}

// printTraceNode renders one node of a trace tree.
func printTraceNode(n *query.TraceNode, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	label := string(n.Function)
	if n.Kind != "" {
		label += "  " + dim(string(n.Kind))
	}
	switch {
	case n.Revisit:
		fmt.Printf("%s%s  %s\n", indent, label, dim("...(see above)"))
		return
	case n.Truncated:
		fmt.Printf("%s%s  %s\n", indent, label, dim("...(depth limit)"))
		return
	}
	if len(n.DirectRaises) > 0 {
		label += "  raises " + strings.Join(n.DirectRaises, ", ")
	}
	if len(n.Escapes) > 0 {
		label += "  " + red("escapes "+strings.Join(n.Escapes, ", "))
	}
	fmt.Printf("%s%s\n", indent, label)
	for _, child := range n.Children {
		printTraceNode(child, depth+1)
	}
}
