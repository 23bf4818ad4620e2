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
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/exctrace/analyzer/config"
	"github.com/AleutianAI/exctrace/analyzer/stubs"
)

func newStubsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stubs",
		Short: "Manage external-function exception stubs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded stubs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			lib, err := stubs.LoadDir(config.StubsDir(flagDirectory), logger)
			if err != nil {
				return err
			}
			if flagFormat == "json" {
				return emit(lib.Stubs())
			}
			for _, s := range lib.Stubs() {
				fmt.Println(bold(s.Module))
				names := make([]string, 0, len(s.Functions))
				for name := range s.Functions {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("  %s: %v\n", name, s.Functions[name])
				}
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create an example stub file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := stubs.InitExample(config.StubsDir(flagDirectory))
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate every stub file, reporting problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			lib, err := stubs.LoadDir(config.StubsDir(flagDirectory), logger)
			if err != nil {
				return err
			}
			fmt.Printf("%d stub(s) loaded cleanly; malformed files were reported above\n", lib.Len())
			return nil
		},
	}

	cmd.AddCommand(list, initCmd, validate)
	return cmd
}
