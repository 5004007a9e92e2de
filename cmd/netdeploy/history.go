// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/netdeploy/internal/audit"
	"github.com/toeirei/netdeploy/internal/i18n"
)

// historyCmd is the root `history` command.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the recorded deployment runs",
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recent deployment runs",
	Args:    cobra.NoArgs,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := auditStore.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println(i18n.T("history.empty"))
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %s@%s  %s/%s  changed=%t  %s",
				r.Timestamp.Format("2006-01-02 15:04:05"),
				r.User, r.Host, r.Transport, r.Mode, r.Changed, r.Outcome)
			if r.Message != "" {
				line += "  " + r.Message
			}
			fmt.Println(line)
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export the full run history as zstd-compressed JSON",
	Args:    cobra.NoArgs,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return errors.New(i18n.T("history.error_no_out"))
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("could not create export file: %w", err)
		}
		defer f.Close()

		if err := auditStore.Export(cmd.Context(), f); err != nil {
			return err
		}
		fmt.Println(i18n.T("history.export_ok", out))
		return nil
	},
}

var historyImportCmd = &cobra.Command{
	Use:     "import <file>",
	Short:   "Import a previously exported run history",
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("could not open export file: %w", err)
		}
		defer f.Close()

		n, err := audit.Import(cmd.Context(), auditStore, f)
		if err != nil {
			return err
		}
		fmt.Println(i18n.T("history.import_ok", n))
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	historyExportCmd.Flags().StringP("out", "o", "", "output file")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyImportCmd)
}
