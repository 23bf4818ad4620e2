// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the per-project configuration from
// <project>/.exctrace/config.yaml. A missing file yields the zero config;
// a malformed file is a fatal ConfigError surfaced before analysis begins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dir is the hidden per-project configuration directory.
const Dir = ".exctrace"

// ErrConfig marks configuration failures; they abort before analysis.
var ErrConfig = errors.New("config error")

// Config holds the recognized configuration keys.
type Config struct {
	// ResolutionMode is the default propagation mode:
	// strict, default, or aggressive.
	ResolutionMode string `yaml:"resolution_mode,omitempty"`

	// Exclude lists gitignore-style patterns skipped by file discovery.
	Exclude []string `yaml:"exclude,omitempty"`

	// HandledBaseClasses lists class names whose subclasses are treated as
	// framework-handled during audits.
	HandledBaseClasses []string `yaml:"handled_base_classes,omitempty"`

	// AsyncBoundaries lists call-site name patterns treated as severing
	// exception propagation (queue dispatches, task spawns).
	AsyncBoundaries []string `yaml:"async_boundaries,omitempty"`
}

// Validate checks constrained field values.
func (c *Config) Validate() error {
	switch c.ResolutionMode {
	case "", "strict", "default", "aggressive":
		return nil
	default:
		return fmt.Errorf("%w: unknown resolution_mode %q", ErrConfig, c.ResolutionMode)
	}
}

// ConfigDir returns the project's configuration directory path.
func ConfigDir(root string) string {
	return filepath.Join(root, Dir)
}

// StubsDir returns the project's stub-file directory path.
func StubsDir(root string) string {
	return filepath.Join(ConfigDir(root), "stubs")
}

// DetectorsDir returns the project's user-detector directory path.
func DetectorsDir(root string) string {
	return filepath.Join(ConfigDir(root), "detectors")
}

// CacheDir returns the project's cache store directory path.
func CacheDir(root string) string {
	return filepath.Join(ConfigDir(root), "cache.badger")
}

// Load reads config.yaml from the project's configuration directory.
//
// Description:
//
//	A missing file returns the zero Config and no error (zero-config
//	works out of the box). A file that exists but cannot be parsed or
//	validated is fatal: the error wraps ErrConfig.
func Load(root string) (Config, error) {
	path := filepath.Join(ConfigDir(root), "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing %s: %v", ErrConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
