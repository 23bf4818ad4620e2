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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/exctrace/analyzer/ast"
)

// ExtractionCache persists per-file extractions keyed by path and content.
// The cache package provides the badger-backed implementation; Build only
// needs this surface.
type ExtractionCache interface {
	// Get returns the cached extraction for (relPath, content), or false
	// on a miss.
	Get(relPath string, content []byte) (*ast.FileExtraction, bool)

	// Put stores the extraction for (relPath, content).
	Put(relPath string, content []byte, fx *ast.FileExtraction) error
}

// defaultExcludes are path prefixes never worth analyzing.
var defaultExcludes = []string{
	".git/",
	".exctrace/",
	"__pycache__/",
	".venv/",
	"venv/",
	"node_modules/",
}

// BuildOptions configures model assembly.
type BuildOptions struct {
	// Excludes lists gitignore-style patterns skipped during discovery,
	// from the exclude key of config.yaml.
	Excludes []string

	// Detectors is the entrypoint/handler detector set run per file.
	Detectors []ast.Detector

	// Cache is the optional extraction cache; nil disables caching.
	Cache ExtractionCache

	// WorkerCount bounds parallel extraction; 0 means runtime.NumCPU().
	WorkerCount int

	// Logger receives assembly diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// BuildOption is a functional option for Build.
type BuildOption func(*BuildOptions)

// WithExcludes sets discovery exclude patterns.
func WithExcludes(patterns []string) BuildOption {
	return func(o *BuildOptions) { o.Excludes = patterns }
}

// WithDetectors sets the detector set.
func WithDetectors(detectors ...ast.Detector) BuildOption {
	return func(o *BuildOptions) { o.Detectors = detectors }
}

// WithCache sets the extraction cache.
func WithCache(c ExtractionCache) BuildOption {
	return func(o *BuildOptions) { o.Cache = c }
}

// WithWorkerCount bounds the extraction fan-out.
func WithWorkerCount(n int) BuildOption {
	return func(o *BuildOptions) { o.WorkerCount = n }
}

// WithLogger sets the assembly logger.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *BuildOptions) { o.Logger = l }
}

// Build assembles the whole-program model for a directory of Python source.
//
// Description:
//
//	Discovery enumerates *.py files under root, applying the default and
//	configured excludes. Files are extracted in parallel (up to
//	min(N, cores) workers, each owning its file's bytes and CST), with
//	cache consultation per file. Results are merged sequentially: facts
//	concatenated, every class registered in the hierarchy, the name index
//	built once at the end. The returned Program is immutable.
//
// Inputs:
//   - ctx: Context for cancellation of the extraction fan-out.
//   - root: Directory to analyze.
//   - opts: Functional options.
//
// Outputs:
//   - *Program: The assembled model.
//   - error: Non-nil for discovery I/O failures or context cancellation.
//     Per-file parse failures degrade to diagnostics instead.
func Build(ctx context.Context, root string, opts ...BuildOption) (*Program, error) {
	options := BuildOptions{WorkerCount: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.WorkerCount <= 0 {
		options.WorkerCount = runtime.NumCPU()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()

	files, err := discoverFiles(root, options.Excludes)
	if err != nil {
		return nil, fmt.Errorf("discovering source files: %w", err)
	}

	extractor := ast.NewExtractor(ast.WithDetectors(options.Detectors...))

	extractions := make([]*ast.FileExtraction, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(options.WorkerCount)

	for i, relPath := range files {
		i, relPath := i, relPath
		g.Go(func() error {
			content, err := os.ReadFile(filepath.Join(root, relPath))
			if err != nil {
				extractions[i] = &ast.FileExtraction{
					FilePath:    relPath,
					Diagnostics: []string{fmt.Sprintf("%s: read failed: %v", relPath, err)},
				}
				return nil
			}

			if options.Cache != nil {
				if fx, ok := options.Cache.Get(relPath, content); ok {
					extractions[i] = fx
					return nil
				}
			}

			fx, err := extractor.Extract(gctx, content, relPath)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Degrade to an empty extraction with a diagnostic; one bad
				// file never aborts the run.
				extractions[i] = &ast.FileExtraction{
					FilePath:    relPath,
					Diagnostics: []string{fmt.Sprintf("%s: %v", relPath, err)},
				}
				return nil
			}

			if options.Cache != nil {
				if err := options.Cache.Put(relPath, content, fx); err != nil {
					logger.Warn("cache write failed",
						slog.String("file", relPath), slog.Any("error", err))
				}
			}
			extractions[i] = fx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}

	m := &Program{
		Root:        root,
		Functions:   make(map[ast.FunctionKey]*ast.FunctionDef),
		Classes:     make(map[string]*ast.ClassDef),
		NameToKeys:  make(map[string][]ast.FunctionKey),
		ModuleFiles: make(map[string]string),
		Hierarchy:   NewHierarchy(),
	}
	for _, fx := range extractions {
		m.merge(fx)
	}
	m.sortTables()
	m.buildIndexes()

	logger.Info("model assembled",
		slog.String("root", root),
		slog.Int("files", len(m.Files)),
		slog.Int("functions", len(m.Functions)),
		slog.Int("classes", len(m.Classes)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return m, nil
}

// discoverFiles enumerates Python source files under root, returning paths
// relative to root with forward slashes, sorted.
func discoverFiles(root string, excludes []string) ([]string, error) {
	matcher := ignore.CompileIgnoreLines(append(append([]string(nil), defaultExcludes...), excludes...)...)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if matcher.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(rel, ".py") {
			return nil
		}
		if matcher.MatchesPath(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
