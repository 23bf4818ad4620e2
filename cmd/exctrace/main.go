// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command exctrace is the whole-program exception-flow analyzer CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exctrace/analyzer/ast"
	"github.com/AleutianAI/exctrace/analyzer/cache"
	"github.com/AleutianAI/exctrace/analyzer/config"
	"github.com/AleutianAI/exctrace/analyzer/detect"
	"github.com/AleutianAI/exctrace/analyzer/model"
	"github.com/AleutianAI/exctrace/analyzer/propagate"
	"github.com/AleutianAI/exctrace/analyzer/query"
	"github.com/AleutianAI/exctrace/analyzer/stubs"
)

// Exit codes of the command surface.
const (
	exitOK         = 0
	exitInvocation = 1
	exitResolution = 2
	exitAuditFail  = 3
)

// Global flag values.
var (
	flagDirectory string
	flagFormat    string
	flagNoCache   bool
	flagStrict    bool
	flagAggr      bool
	flagVerbose   bool
)

// auditFailure signals exit code 3 from the audit command.
var auditFailure = errors.New("audit found uncaught exceptions")

func main() {
	root := &cobra.Command{
		Use:           "exctrace",
		Short:         "Static exception-flow analysis for Python codebases",
		Long:          "exctrace answers which exceptions can escape unhandled from each function and entrypoint of a Python codebase, via whole-program raise/catch propagation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagDirectory, "directory", "d", ".", "directory to analyze")
	root.PersistentFlags().StringVarP(&flagFormat, "format", "f", "text", "output format: text or json")
	root.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "bypass the extraction cache")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		newRaisesCmd(),
		newCatchesCmd(),
		newCallersCmd(),
		newEscapesCmd(),
		newTraceCmd(),
		newExceptionsCmd(),
		newSubclassesCmd(),
		newStatsCmd(),
		newStubsCmd(),
	)
	for _, name := range []string{"flask", "fastapi", "django"} {
		root.AddCommand(newFrameworkCmd(name))
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

// exitCodeFor maps error kinds to the documented exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, auditFailure):
		return exitAuditFail
	case errors.Is(err, model.ErrFunctionNotFound), errors.Is(err, model.ErrAmbiguousFunction):
		return exitResolution
	default:
		return exitInvocation
	}
}

// setupLogger configures slog for the CLI: warnings only unless --verbose.
func setupLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// analysis bundles everything a command needs after setup.
type analysis struct {
	cfg       config.Config
	engine    *query.Engine
	lib       *stubs.Library
	detectors []ast.Detector
	cleanup   func()
}

// frameworkByName finds a framework detector by tag, preferring a
// user-supplied detector file over the built-in of the same name.
func frameworkByName(a *analysis, name string) (*detect.Framework, bool) {
	for _, d := range a.detectors {
		if fw, ok := d.(*detect.Framework); ok && fw.Tag == name {
			return fw, true
		}
	}
	return detect.ByName(name)
}

// mode returns the effective propagation mode: flags override config.
func (a *analysis) mode() propagate.Mode {
	if flagStrict {
		return propagate.ModeStrict
	}
	if flagAggr {
		return propagate.ModeAggressive
	}
	return propagate.ParseMode(a.cfg.ResolutionMode)
}

// openAnalysis loads config, detectors, stubs, and the cache, builds the
// model, and wires the propagation session and query engine.
func openAnalysis(ctx context.Context) (*analysis, error) {
	logger := setupLogger()
	root := flagDirectory

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	detectors := detect.Builtin()
	userDetectors, err := detect.LoadDir(config.DetectorsDir(root), logger)
	if err != nil {
		return nil, err
	}
	detectors = append(detectors, userDetectors...)

	lib, err := stubs.LoadDir(config.StubsDir(root), logger)
	if err != nil {
		return nil, err
	}

	a := &analysis{cfg: cfg, lib: lib, detectors: userDetectors, cleanup: func() {}}

	buildOpts := []model.BuildOption{
		model.WithExcludes(cfg.Exclude),
		model.WithDetectors(detectors...),
		model.WithLogger(logger),
	}
	if !flagNoCache {
		store, err := cache.Open(config.CacheDir(root), logger)
		if err != nil {
			// A broken cache never blocks analysis.
			logger.Warn("cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			a.cleanup = func() { store.Close() }
			buildOpts = append(buildOpts, model.WithCache(store))
		}
	}

	m, err := model.Build(ctx, root, buildOpts...)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	session := propagate.NewSession(m,
		propagate.WithStubs(lib),
		propagate.WithAsyncBoundaries(cfg.AsyncBoundaries),
		propagate.WithSessionLogger(logger),
	)
	a.engine = query.NewEngine(m, session)
	return a, nil
}

// addModeFlags registers the propagation-mode flags on a command.
func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagStrict, "strict", false, "drop heuristic (name-fallback, polymorphic) edges")
	cmd.Flags().BoolVar(&flagAggr, "aggressive", false, "aggressive resolution (currently equivalent to default)")
}
