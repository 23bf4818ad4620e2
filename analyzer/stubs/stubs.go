// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stubs maps external functions to the exceptions they may raise,
// loaded from declarative YAML stub files. Stubs are how behavior outside
// the scanned directory enters the analysis.
package stubs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stub is one declarative stub file: a module and the exceptions each of
// its functions may raise.
type Stub struct {
	// Module is the qualified module name ("http_client", "requests").
	Module string `yaml:"module"`

	// Functions maps a function bare name to raised exception names.
	Functions map[string][]string `yaml:"functions"`
}

// Validate checks the structural requirements of a stub.
func (s *Stub) Validate() error {
	if s.Module == "" {
		return fmt.Errorf("stub missing module name")
	}
	if len(s.Functions) == 0 {
		return fmt.Errorf("stub %s declares no functions", s.Module)
	}
	for name, excs := range s.Functions {
		if name == "" {
			return fmt.Errorf("stub %s has an unnamed function", s.Module)
		}
		for _, exc := range excs {
			if exc == "" {
				return fmt.Errorf("stub %s.%s lists an empty exception name", s.Module, name)
			}
		}
	}
	return nil
}

// Library is the loaded stub set.
//
// Thread Safety: Safe for concurrent reads after loading.
type Library struct {
	// byQualified maps "module.function" -> exception names.
	byQualified map[string][]string

	// byBare maps a function bare name -> exception names across every
	// registered stub (the fallback lookup).
	byBare map[string][]string

	stubs []Stub
}

// NewLibrary creates an empty stub library.
func NewLibrary() *Library {
	return &Library{
		byQualified: make(map[string][]string),
		byBare:      make(map[string][]string),
	}
}

// Add registers one stub.
func (l *Library) Add(s Stub) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.stubs = append(l.stubs, s)
	for fn, excs := range s.Functions {
		qualified := s.Module + "." + fn
		l.byQualified[qualified] = mergeNames(l.byQualified[qualified], excs)
		l.byBare[fn] = mergeNames(l.byBare[fn], excs)
	}
	return nil
}

// Get returns the exception set for a call target.
//
// Description:
//
//	Prefers an exact match on the qualified name; falls back to a
//	bare-name match across every registered stub; returns nil when no
//	stub applies.
func (l *Library) Get(qualifiedName, bareName string) []string {
	if excs, ok := l.byQualified[qualifiedName]; ok {
		return excs
	}
	if excs, ok := l.byBare[bareName]; ok {
		return excs
	}
	return nil
}

// Stubs returns the loaded stubs sorted by module name.
func (l *Library) Stubs() []Stub {
	out := append([]Stub(nil), l.stubs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Len returns the number of loaded stubs.
func (l *Library) Len() int { return len(l.stubs) }

// LoadDir loads every *.yaml stub file under dir.
//
// Description:
//
//	A missing directory yields an empty library. A malformed stub file is
//	skipped with a diagnostic warning; analysis continues without it.
func LoadDir(dir string, logger *slog.Logger) (*Library, error) {
	lib := NewLibrary()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("reading stubs dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		stub, err := loadFile(path)
		if err != nil {
			logger.Warn("skipping stub file",
				slog.String("file", path), slog.Any("error", err))
			continue
		}
		if err := lib.Add(stub); err != nil {
			logger.Warn("skipping invalid stub",
				slog.String("file", path), slog.Any("error", err))
		}
	}
	return lib, nil
}

// loadFile reads and validates a single stub file.
func loadFile(path string) (Stub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stub{}, fmt.Errorf("reading stub: %w", err)
	}
	var s Stub
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Stub{}, fmt.Errorf("parsing stub: %w", err)
	}
	return s, nil
}

// InitExample writes a commented example stub file for `stubs init`.
func InitExample(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating stubs dir: %w", err)
	}
	path := filepath.Join(dir, "example.yaml")
	const body = `# Stub file: declares exceptions raised by external functions.
module: http_client
functions:
  get: [TimeoutError, ConnectionError]
  post: [TimeoutError, ConnectionError]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing example stub: %w", err)
	}
	return path, nil
}

func mergeNames(existing, add []string) []string {
	for _, name := range add {
		found := false
		for _, have := range existing {
			if have == name {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, name)
		}
	}
	return existing
}
