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
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// writeTree is a test helper materializing a source tree in a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// buildTree is a test helper assembling a model over an inline source tree.
func buildTree(t *testing.T, files map[string]string, opts ...BuildOption) *Program {
	t.Helper()
	root := writeTree(t, files)
	m, err := Build(context.Background(), root, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestBuild_NameIndexInvariant(t *testing.T) {
	m := buildTree(t, map[string]string{
		"a.py": "def f():\n    pass\n",
		"b.py": "class C:\n    def m(self):\n        pass\n",
	})

	// Every key appears in the index under its bare name, and under its
	// class-qualified name when they differ.
	for key, fn := range m.Functions {
		if !containsKey(m.NameToKeys[fn.Name], key) {
			t.Errorf("key %s missing from index under bare name %q", key, fn.Name)
		}
		if fn.Qualified != fn.Name && !containsKey(m.NameToKeys[fn.Qualified], key) {
			t.Errorf("key %s missing from index under qualified name %q", key, fn.Qualified)
		}
	}

	// A full key resolves to itself.
	for key := range m.Functions {
		resolved, err := ResolveFunctionKey(string(key), m)
		if err != nil {
			t.Errorf("ResolveFunctionKey(%s): %v", key, err)
		} else if resolved != key {
			t.Errorf("ResolveFunctionKey(%s) = %s", key, resolved)
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	files := map[string]string{
		"a.py":       "def f():\n    raise ValueError()\n",
		"pkg/b.py":   "from a import f\n\ndef g():\n    f()\n",
		"pkg/c.py":   "class E(ValueError):\n    pass\n",
	}
	root := writeTree(t, files)

	m1, err := Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(m1.FunctionKeys(), m2.FunctionKeys()) {
		t.Error("function keys differ between builds")
	}
	if !reflect.DeepEqual(m1.Raises, m2.Raises) {
		t.Error("raise tables differ between builds")
	}
	if !reflect.DeepEqual(m1.Calls, m2.Calls) {
		t.Error("call tables differ between builds")
	}
	if !reflect.DeepEqual(m1.NameToKeys, m2.NameToKeys) {
		t.Error("name index differs between builds")
	}
}

func TestBuild_Excludes(t *testing.T) {
	m := buildTree(t, map[string]string{
		"keep.py":          "def f():\n    pass\n",
		"vendor/skip.py":   "def g():\n    pass\n",
		"tests/test_it.py": "def t():\n    pass\n",
	}, WithExcludes([]string{"vendor/", "tests/"}))

	if len(m.Files) != 1 || m.Files[0].FilePath != "keep.py" {
		t.Errorf("excludes not applied; files: %+v", fileNames(m))
	}
}

func TestBuild_ParseFailureDegrades(t *testing.T) {
	m := buildTree(t, map[string]string{
		"good.py": "def f():\n    pass\n",
		"bad.py":  "def broken(:\n",
	})

	if len(m.Files) != 2 {
		t.Fatalf("expected both files in the model, got %d", len(m.Files))
	}
	if len(m.Diagnostics) == 0 {
		t.Error("expected a diagnostic for the unparsable file")
	}
	if _, ok := m.Functions[ast.MakeFunctionKey("good.py", "f")]; !ok {
		t.Error("good file not extracted")
	}
}

func TestBuild_ModuleFiles(t *testing.T) {
	m := buildTree(t, map[string]string{
		"a.py":            "def f():\n    pass\n",
		"pkg/__init__.py": "",
		"pkg/mod.py":      "def g():\n    pass\n",
	})

	want := map[string]string{
		"a":       "a.py",
		"pkg":     "pkg/__init__.py",
		"pkg.mod": "pkg/mod.py",
	}
	for mod, file := range want {
		if got := m.ModuleFiles[mod]; got != file {
			t.Errorf("ModuleFiles[%q] = %q, want %q", mod, got, file)
		}
	}
}

func TestResolveFunctionKey_Shapes(t *testing.T) {
	m := buildTree(t, map[string]string{
		"a.py": "def unique():\n    pass\n",
		"b.py": "class A:\n    def save(self):\n        pass\n",
		"c.py": "class B:\n    def save(self):\n        pass\n",
	})

	t.Run("bare unique", func(t *testing.T) {
		key, err := ResolveFunctionKey("unique", m)
		if err != nil {
			t.Fatal(err)
		}
		if key != ast.MakeFunctionKey("a.py", "unique") {
			t.Errorf("resolved to %s", key)
		}
	})

	t.Run("class qualified", func(t *testing.T) {
		key, err := ResolveFunctionKey("A.save", m)
		if err != nil {
			t.Fatal(err)
		}
		if key != ast.MakeFunctionKey("b.py", "A.save") {
			t.Errorf("resolved to %s", key)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveFunctionKey("save", m)
		var ambiguous *AmbiguousFunctionError
		if !errors.As(err, &ambiguous) {
			t.Fatalf("expected AmbiguousFunctionError, got %v", err)
		}
		if len(ambiguous.Matches) != 2 {
			t.Errorf("matches = %v", ambiguous.Matches)
		}
	})

	t.Run("not found with suggestions", func(t *testing.T) {
		_, err := ResolveFunctionKey("uniqe", m)
		var notFound *FunctionNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected FunctionNotFoundError, got %v", err)
		}
		if len(notFound.Suggestions) == 0 || notFound.Suggestions[0] != "unique" {
			t.Errorf("suggestions = %v, want [unique ...]", notFound.Suggestions)
		}
	})
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func containsKey(keys []ast.FunctionKey, want ast.FunctionKey) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}

func fileNames(m *Program) []string {
	var out []string
	for _, fx := range m.Files {
		out = append(out, fx.FilePath)
	}
	return out
}
