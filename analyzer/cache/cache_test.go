// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// newTestStore creates an in-memory cache store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := OpenInMemory(logger)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleExtraction() *ast.FileExtraction {
	return &ast.FileExtraction{
		FilePath: "pkg/mod.py",
		Functions: []ast.FunctionDef{
			{File: "pkg/mod.py", Line: 3, Name: "f", Qualified: "f", ReturnType: "str"},
		},
		Classes: []ast.ClassDef{
			{File: "pkg/mod.py", Line: 10, Name: "E", Qualified: "E", Bases: []string{"ValueError"}},
		},
		Raises: []ast.RaiseSite{
			{File: "pkg/mod.py", Line: 4, Function: "pkg/mod.py::f", ExceptionType: "ValueError"},
		},
		Catches: []ast.CatchSite{
			{File: "pkg/mod.py", Line: 6, Function: "pkg/mod.py::f", CaughtTypes: []string{"KeyError"}, BoundName: "e", TryStartLine: 5, TryEndLine: 5},
		},
		Calls: []ast.CallSite{
			{File: "pkg/mod.py", Line: 4, Caller: "pkg/mod.py::f", CalleeBareName: "g", Callee: "a.g", Resolution: ast.ResolutionImport},
		},
		Imports: map[string]string{"g": "a.g"},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := []byte("def f(): pass\n")
	fx := sampleExtraction()

	if _, ok := s.Get("pkg/mod.py", content); ok {
		t.Fatal("unexpected hit before Put")
	}
	if err := s.Put("pkg/mod.py", content, fx); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Get("pkg/mod.py", content)
	if !ok {
		t.Fatal("miss after Put")
	}
	if !reflect.DeepEqual(got, fx) {
		t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", got, fx)
	}
}

func TestStore_ContentChangeMisses(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("a.py", []byte("v1"), sampleExtraction()); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("a.py", []byte("v2")); ok {
		t.Error("changed content must miss")
	}
	if _, ok := s.Get("b.py", []byte("v1")); ok {
		t.Error("different path must miss")
	}
}

func TestStore_PersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	content := []byte("def f(): pass\n")

	s1, err := Open(dir, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Put("a.py", content, sampleExtraction()); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, ok := s2.Get("a.py", content); !ok {
		t.Error("entry lost across reopen")
	}
}

func TestStore_KeyEmbedsSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	key := string(s.key("a.py", []byte("x")))
	want := "exc:extract:v1:a.py:"
	if len(key) <= len(want) || key[:len(want)] != want {
		t.Errorf("key = %q, want prefix %q", key, want)
	}
}
