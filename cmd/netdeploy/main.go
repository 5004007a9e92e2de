// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Netdeploy using the Cobra
// library. It defines the root command, the subcommands (deploy, history,
// probe), global flags and the entry point for execution.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/toeirei/netdeploy/internal/audit"
	"github.com/toeirei/netdeploy/internal/config"
	"github.com/toeirei/netdeploy/internal/i18n"
	"github.com/toeirei/netdeploy/internal/logging"
)

var version = "dev" // this will be set by the linker

var (
	cfgFile   string
	verbose   bool
	appConfig config.Config
)

// auditStore is opened lazily by setupDefaultServices and shared by the
// subcommands.
var auditStore *audit.Store

func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netdeploy",
	Short: "Netdeploy pushes configuration to network devices as one atomic transaction",
	Long: `Netdeploy deploys a configuration artifact onto a remote network device:
lock, load, diff, optional check, commit, unlock - leaving no partial
state on any failure path. Devices already reachable over the management
protocol are driven through an RPC session; unreachable devices can be
bootstrapped over a telnet or serial console.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is netdeploy.yaml in the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(probeCmd)
}

// setupDefaultServices loads the configuration and initializes logging,
// i18n and the audit store. It runs as PreRunE on every subcommand that
// needs them.
func setupDefaultServices(cmd *cobra.Command, args []string) error {
	var cfgPath *string
	if cfgFile != "" {
		cfgPath = &cfgFile
	}

	defaults := map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./netdeploy.db",
		"language":      "en",
	}

	var err error
	appConfig, err = config.LoadConfig[config.Config](cmd, defaults, cfgPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defaults["database.type"].(string)
	}
	if appConfig.Database.Dsn == "" {
		appConfig.Database.Dsn = defaults["database.dsn"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = defaults["language"].(string)
	}

	i18n.Init(appConfig.Language)
	logging.SetDebug(verbose)

	if appConfig.LogFile != "" {
		f, err := os.OpenFile(appConfig.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		logging.SetOutput(f)
	}

	auditStore, err = audit.New(appConfig.Database.Type, appConfig.Database.Dsn)
	if err != nil {
		return fmt.Errorf(i18n.T("config.error_init_db"), err)
	}

	return nil
}
