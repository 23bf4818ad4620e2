// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stubs

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLibrary_Lookup(t *testing.T) {
	lib := NewLibrary()
	err := lib.Add(Stub{
		Module: "http_client",
		Functions: map[string][]string{
			"get":  {"TimeoutError", "ConnectionError"},
			"post": {"TimeoutError"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("qualified match preferred", func(t *testing.T) {
		got := lib.Get("http_client.get", "get")
		if len(got) != 2 {
			t.Errorf("Get = %v", got)
		}
	})

	t.Run("bare fallback", func(t *testing.T) {
		got := lib.Get("other.module.get", "get")
		if len(got) != 2 {
			t.Errorf("bare fallback Get = %v", got)
		}
	})

	t.Run("no stub applies", func(t *testing.T) {
		if got := lib.Get("x.y", "y"); got != nil {
			t.Errorf("Get = %v, want nil", got)
		}
	})
}

func TestStub_Validate(t *testing.T) {
	tests := []struct {
		name    string
		stub    Stub
		wantErr bool
	}{
		{"valid", Stub{Module: "m", Functions: map[string][]string{"f": {"E"}}}, false},
		{"missing module", Stub{Functions: map[string][]string{"f": {"E"}}}, true},
		{"no functions", Stub{Module: "m"}, true},
		{"empty exception", Stub{Module: "m", Functions: map[string][]string{"f": {""}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stub.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeStub := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeStub("http.yaml", "module: http_client\nfunctions:\n  get: [TimeoutError]\n")
	writeStub("broken.yaml", "module: [not a string\n")
	writeStub("ignored.txt", "not yaml")

	lib, err := LoadDir(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	// The malformed file is skipped; the valid one loads.
	if lib.Len() != 1 {
		t.Fatalf("loaded %d stubs, want 1", lib.Len())
	}
	if got := lib.Get("http_client.get", "get"); len(got) != 1 || got[0] != "TimeoutError" {
		t.Errorf("Get = %v", got)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	lib, err := LoadDir(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if lib.Len() != 0 {
		t.Errorf("expected empty library")
	}
}

func TestInitExample(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stubs")
	path, err := InitExample(dir)
	if err != nil {
		t.Fatalf("InitExample: %v", err)
	}
	lib, err := LoadDir(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if lib.Len() != 1 {
		t.Errorf("example stub did not load from %s", path)
	}
}
