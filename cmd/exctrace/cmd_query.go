// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagSubclasses bool
var flagRecursive bool

func newRaisesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raises <Exception>",
		Short: "Show where an exception type is raised",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.FindRaises(args[0], flagSubclasses))
		},
	}
	cmd.Flags().BoolVarP(&flagSubclasses, "subclasses", "s", false, "include subclasses of the exception")
	return cmd
}

func newCatchesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catches <Exception>",
		Short: "Show where an exception type would be caught",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.FindCatches(args[0], flagSubclasses))
		},
	}
	cmd.Flags().BoolVarP(&flagSubclasses, "subclasses", "s", false, "include catch sites of subclasses")
	return cmd
}

func newCallersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callers <function>",
		Short: "Show who calls a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			key, err := a.engine.Resolve(args[0])
			if err != nil {
				return err
			}
			return emit(a.engine.FindCallers(key, a.mode(), flagRecursive))
		},
	}
	cmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", false, "include transitive callers")
	addModeFlags(cmd)
	return cmd
}

func newEscapesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escapes <function>",
		Short: "Show which exceptions escape a function unhandled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			key, err := a.engine.Resolve(args[0])
			if err != nil {
				return err
			}
			return emit(a.engine.FindEscapes(key, a.mode()))
		},
	}
	addModeFlags(cmd)
	return cmd
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <function>",
		Short: "Show the annotated call tree under a function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			key, err := a.engine.Resolve(args[0])
			if err != nil {
				return err
			}
			return emit(a.engine.Trace(key, a.mode()))
		},
	}
	addModeFlags(cmd)
	return cmd
}

func newExceptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exceptions",
		Short: "List the known exception hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.ExceptionHierarchy())
		},
	}
}

func newSubclassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subclasses <Class>",
		Short: "List the transitive subclasses of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.Subclasses(args[0]))
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show model statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.Model().Stats())
		},
	}
}

func newFrameworkCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Audit and inspect %s entrypoints", name),
	}

	audit := &cobra.Command{
		Use:   "audit",
		Short: "Classify escaping exceptions at every entrypoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			fw, ok := frameworkByName(a, name)
			if !ok {
				return fmt.Errorf("unknown framework %q", name)
			}
			res := a.engine.Audit(fw, a.mode(), a.cfg.HandledBaseClasses)
			if err := emit(res); err != nil {
				return err
			}
			if !res.Passed {
				return auditFailure
			}
			return nil
		},
	}
	addModeFlags(audit)

	entrypoints := &cobra.Command{
		Use:   "entrypoints",
		Short: "List detected entrypoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.Entrypoints(name))
		},
	}

	routesTo := &cobra.Command{
		Use:   "routes-to <Exception>",
		Short: "Show which routes an exception can escape from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openAnalysis(cmd.Context())
			if err != nil {
				return err
			}
			defer a.cleanup()
			return emit(a.engine.RoutesTo(name, args[0], flagSubclasses, a.mode()))
		},
	}
	routesTo.Flags().BoolVarP(&flagSubclasses, "subclasses", "s", false, "include subclasses of the exception")
	addModeFlags(routesTo)

	cmd.AddCommand(audit, entrypoints, routesTo)
	return cmd
}
