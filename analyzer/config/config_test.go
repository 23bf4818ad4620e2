// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	dir := ConfigDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("missing config must not error: %v", err)
	}
	if cfg.ResolutionMode != "" || len(cfg.Exclude) != 0 {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_Full(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
resolution_mode: strict
exclude:
  - "vendor/"
  - "**/generated/*"
handled_base_classes:
  - HTTPException
async_boundaries:
  - "delay"
  - "apply_async"
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ResolutionMode != "strict" {
		t.Errorf("resolution_mode = %q", cfg.ResolutionMode)
	}
	if len(cfg.Exclude) != 2 || cfg.Exclude[0] != "vendor/" {
		t.Errorf("exclude = %v", cfg.Exclude)
	}
	if len(cfg.HandledBaseClasses) != 1 || cfg.HandledBaseClasses[0] != "HTTPException" {
		t.Errorf("handled_base_classes = %v", cfg.HandledBaseClasses)
	}
	if len(cfg.AsyncBoundaries) != 2 {
		t.Errorf("async_boundaries = %v", cfg.AsyncBoundaries)
	}
}

func TestLoad_MalformedIsFatal(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "resolution_mode: [broken\n")

	_, err := Load(root)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoad_UnknownModeIsFatal(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "resolution_mode: yolo\n")

	_, err := Load(root)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
