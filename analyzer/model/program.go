// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model aggregates per-file extractions into a whole-program model:
// the function table, the merged class hierarchy, and the name-to-key
// reverse index that boundary resolution uses.
package model

import (
	"sort"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// Program is the assembled whole-program model.
//
// Description:
//
//	Built once per analysis session by Build and immutable thereafter.
//	All slices are sorted by (file, line, name) so downstream queries and
//	tests are deterministic regardless of extraction order.
type Program struct {
	// Root is the analyzed directory.
	Root string

	// Files holds every per-file extraction, sorted by path.
	Files []*ast.FileExtraction

	// Functions is the function table keyed by canonical FunctionKey.
	Functions map[ast.FunctionKey]*ast.FunctionDef

	// Classes maps class qualified name -> definition. Name collisions
	// across files keep the first registration (the model is name-keyed,
	// like the analysis itself).
	Classes map[string]*ast.ClassDef

	// NameToKeys maps a bare name, and a class-qualified name when they
	// differ, to every matching FunctionKey.
	NameToKeys map[string][]ast.FunctionKey

	// ModuleFiles maps a dotted module path ("pkg.mod") to its file.
	ModuleFiles map[string]string

	// Hierarchy is the merged exception class hierarchy.
	Hierarchy *Hierarchy

	// Flattened, sorted fact tables.
	Raises         []ast.RaiseSite
	Catches        []ast.CatchSite
	Calls          []ast.CallSite
	Entrypoints    []ast.Entrypoint
	GlobalHandlers []ast.GlobalHandler

	// Diagnostics aggregates per-file extraction diagnostics.
	Diagnostics []string
}

// Stats summarizes the model for the stats command.
type Stats struct {
	Files          int     `json:"files"`
	Functions      int     `json:"functions"`
	Classes        int     `json:"classes"`
	ExceptionTypes int     `json:"exception_types"`
	Raises         int     `json:"raises"`
	Catches        int     `json:"catches"`
	Calls          int     `json:"calls"`
	ResolvedCalls  int     `json:"resolved_calls"`
	ResolutionRate float64 `json:"resolution_rate"`
	Entrypoints    int     `json:"entrypoints"`
	GlobalHandlers int     `json:"global_handlers"`
	Diagnostics    int     `json:"diagnostics"`
}

// Stats computes summary statistics over the model.
func (m *Program) Stats() Stats {
	s := Stats{
		Files:          len(m.Files),
		Functions:      len(m.Functions),
		Classes:        len(m.Classes),
		ExceptionTypes: len(m.Hierarchy.ExceptionTypes()),
		Raises:         len(m.Raises),
		Catches:        len(m.Catches),
		Calls:          len(m.Calls),
		Entrypoints:    len(m.Entrypoints),
		GlobalHandlers: len(m.GlobalHandlers),
		Diagnostics:    len(m.Diagnostics),
	}
	for _, c := range m.Calls {
		if c.Callee != "" {
			s.ResolvedCalls++
		}
	}
	if s.Calls > 0 {
		s.ResolutionRate = float64(s.ResolvedCalls) / float64(s.Calls)
	}
	return s
}

// FunctionKeys returns every key in the function table, sorted.
func (m *Program) FunctionKeys() []ast.FunctionKey {
	keys := make([]ast.FunctionKey, 0, len(m.Functions))
	for k := range m.Functions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// merge folds one file extraction into the model's tables. Called only by
// Build, before the model freezes.
func (m *Program) merge(fx *ast.FileExtraction) {
	m.Files = append(m.Files, fx)

	for i := range fx.Functions {
		fn := &fx.Functions[i]
		m.Functions[fn.Key()] = fn
	}
	for i := range fx.Classes {
		cls := &fx.Classes[i]
		if _, exists := m.Classes[cls.Qualified]; !exists {
			m.Classes[cls.Qualified] = cls
		}
		m.Hierarchy.Add(cls.Qualified, cls.Bases)
	}

	m.Raises = append(m.Raises, fx.Raises...)
	m.Catches = append(m.Catches, fx.Catches...)
	m.Calls = append(m.Calls, fx.Calls...)
	m.Entrypoints = append(m.Entrypoints, fx.Entrypoints...)
	m.GlobalHandlers = append(m.GlobalHandlers, fx.GlobalHandlers...)
	m.Diagnostics = append(m.Diagnostics, fx.Diagnostics...)

	m.ModuleFiles[ast.ModulePath(fx.FilePath)] = fx.FilePath
}

// buildIndexes fills NameToKeys and the exception flags after every file has
// been merged.
func (m *Program) buildIndexes() {
	for key, fn := range m.Functions {
		m.NameToKeys[fn.Name] = append(m.NameToKeys[fn.Name], key)
		if fn.Qualified != fn.Name {
			m.NameToKeys[fn.Qualified] = append(m.NameToKeys[fn.Qualified], key)
		}
	}
	for _, keys := range m.NameToKeys {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}

	for _, cls := range m.Classes {
		cls.IsException = m.Hierarchy.IsSubclassOf(cls.Qualified, "Exception")
	}
}

// sortTables orders every fact table by (file, line, name) for deterministic
// output.
func (m *Program) sortTables() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].FilePath < m.Files[j].FilePath })
	sort.Slice(m.Raises, func(i, j int) bool {
		a, b := m.Raises[i], m.Raises[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.ExceptionType < b.ExceptionType
	})
	sort.Slice(m.Catches, func(i, j int) bool {
		a, b := m.Catches[i], m.Catches[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	sort.Slice(m.Calls, func(i, j int) bool {
		a, b := m.Calls[i], m.Calls[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.CalleeBareName < b.CalleeBareName
	})
	sort.Slice(m.Entrypoints, func(i, j int) bool {
		a, b := m.Entrypoints[i], m.Entrypoints[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Function < b.Function
	})
	sort.Slice(m.GlobalHandlers, func(i, j int) bool {
		a, b := m.GlobalHandlers[i], m.GlobalHandlers[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	sort.Strings(m.Diagnostics)
}
