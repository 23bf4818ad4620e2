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

import "testing"

func TestHierarchy_Reflexivity(t *testing.T) {
	h := NewHierarchy()
	h.Add("MyErr", []string{"ValueError"})

	for _, name := range h.Names() {
		if !h.IsSubclassOf(name, name) {
			t.Errorf("IsSubclassOf(%s, %s) = false", name, name)
		}
	}
}

func TestHierarchy_TransitiveSubclass(t *testing.T) {
	h := NewHierarchy()
	h.Add("AppError", []string{"Exception"})
	h.Add("DBError", []string{"AppError"})
	h.Add("TimeoutDBError", []string{"DBError"})

	tests := []struct {
		child, ancestor string
		want            bool
	}{
		{"TimeoutDBError", "AppError", true},
		{"TimeoutDBError", "Exception", true},
		{"TimeoutDBError", "BaseException", true},
		{"AppError", "TimeoutDBError", false},
		{"DBError", "ValueError", false},
		{"KeyError", "LookupError", true},   // builtin seed
		{"KeyError", "Exception", true},     // builtin seed, transitive
		{"KeyError", "OSError", false},
	}
	for _, tt := range tests {
		if got := h.IsSubclassOf(tt.child, tt.ancestor); got != tt.want {
			t.Errorf("IsSubclassOf(%s, %s) = %v, want %v", tt.child, tt.ancestor, got, tt.want)
		}
	}
}

func TestHierarchy_UnresolvedBaseIsRoot(t *testing.T) {
	h := NewHierarchy()
	h.Add("External", []string{"somelib.LibError"})

	// The unresolved base stays a root; nothing is fabricated under
	// Exception.
	if h.IsSubclassOf("External", "Exception") {
		t.Error("class with only an unresolved base must not become an Exception subclass")
	}
	if !h.IsSubclassOf("External", "somelib.LibError") {
		t.Error("class must still derive from its written base")
	}
}

func TestHierarchy_MemoInvalidation(t *testing.T) {
	h := NewHierarchy()
	h.Add("A", []string{"Exception"})

	if h.IsSubclassOf("B", "A") {
		t.Fatal("B is not yet known")
	}
	// Adding B must clear the memoized negative result.
	h.Add("B", []string{"A"})
	if !h.IsSubclassOf("B", "A") {
		t.Error("memo not invalidated by Add")
	}
}

func TestHierarchy_Subclasses(t *testing.T) {
	h := NewHierarchy()
	h.Add("AppError", []string{"Exception"})
	h.Add("DBError", []string{"AppError"})
	h.Add("NetError", []string{"AppError"})

	got := h.Subclasses("AppError")
	want := []string{"DBError", "NetError"}
	if len(got) != len(want) {
		t.Fatalf("Subclasses(AppError) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subclass[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHierarchy_ExceptionTypesIncludesUserClasses(t *testing.T) {
	h := NewHierarchy()
	h.Add("AppError", []string{"Exception"})
	h.Add("Unrelated", []string{"object"})

	found := false
	for _, name := range h.ExceptionTypes() {
		if name == "Unrelated" {
			t.Error("non-exception class listed as exception type")
		}
		if name == "AppError" {
			found = true
		}
	}
	if !found {
		t.Error("AppError missing from exception types")
	}
}
