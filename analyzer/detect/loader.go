// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// LoadDir reads user-supplied detector files (*.yaml) from a directory and
// returns them as Framework detectors.
//
// Description:
//
//	A missing directory yields no detectors and no error (zero-config).
//	A malformed file is skipped with a warning; it never aborts analysis.
//
// Inputs:
//   - dir: Path to the detectors directory, typically
//     <project>/.exctrace/detectors.
//   - logger: Logger for skip diagnostics. Must not be nil.
//
// Outputs:
//   - []ast.Detector: The loaded detectors, possibly empty.
//   - error: Non-nil only for I/O failures other than a missing directory.
func LoadDir(dir string, logger *slog.Logger) ([]ast.Detector, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading detectors dir: %w", err)
	}

	var detectors []ast.Detector
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable detector file",
				slog.String("file", path), slog.Any("error", err))
			continue
		}
		var fw Framework
		if err := yaml.Unmarshal(data, &fw); err != nil {
			logger.Warn("skipping malformed detector file",
				slog.String("file", path), slog.Any("error", err))
			continue
		}
		if fw.Tag == "" {
			fw.Tag = strings.TrimSuffix(strings.TrimSuffix(name, ".yml"), ".yaml")
		}
		detectors = append(detectors, &fw)
	}
	return detectors, nil
}
