// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toeirei/netdeploy/internal/audit"
	"github.com/toeirei/netdeploy/internal/deploy"
	"github.com/toeirei/netdeploy/internal/i18n"
	"github.com/toeirei/netdeploy/internal/logging"
	"github.com/toeirei/netdeploy/internal/model"
	"golang.org/x/term"
)

var deployFlags struct {
	host        string
	port        int
	user        string
	password    string
	askPassword bool

	file      string
	merge     bool
	overwrite bool
	replace   bool

	timeout    int
	comment    string
	confirm    int
	commitWait int

	check    bool
	diffFile string
	viaSCP   bool

	console string
	saveDir string
	baud    int
}

// deployCmd represents the 'deploy' command.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a configuration artifact to a device",
	Long: `Deploys a configuration file to a network device as one transaction.
The artifact format is derived from the file name: .set/.cmd files carry
line commands, .xml files structured markup, everything else plain text.
Passing --console selects the out-of-band console transport used for
bootstrapping devices that are not reachable over the management protocol.`,
	Args:    cobra.NoArgs,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := buildSpec()
		if err != nil {
			return err
		}

		res := deploy.Run(cmd.Context(), spec)
		recordRun(cmd, spec, res)

		if res.Diff != "" {
			fmt.Println(res.Diff)
		}
		if res.Err != nil {
			return fmt.Errorf(i18n.T("deploy.error_run_failed"), res.Err.Kind, res.Err.Message)
		}

		if spec.CheckMode {
			fmt.Println(i18n.T("deploy.check_ok"))
		} else if res.Changed {
			fmt.Println(i18n.T("deploy.commit_ok"))
			if spec.Commit.ConfirmMinutes > 0 {
				// The confirming follow-up commit is the operator's job.
				fmt.Println(i18n.T("deploy.confirm_reminder", spec.Commit.ConfirmMinutes))
			}
		} else {
			fmt.Println(i18n.T("deploy.no_changes"))
		}
		return nil
	},
}

// buildSpec validates the command line and assembles the deployment
// request. Everything that can be rejected without touching a transport is
// rejected here.
func buildSpec() (*model.DeploymentSpec, error) {
	f := &deployFlags

	mode, err := model.ResolveMode(f.overwrite, f.replace)
	if err != nil {
		return nil, err
	}
	if f.merge && (f.overwrite || f.replace) {
		return nil, errors.New(i18n.T("deploy.error_merge_conflict"))
	}

	if f.file == "" {
		return nil, errors.New(i18n.T("deploy.error_no_file"))
	}
	if _, err := os.Stat(f.file); err != nil {
		return nil, fmt.Errorf(i18n.T("deploy.error_file_missing"), f.file, err)
	}

	consoleMode := model.ConsoleNone
	switch strings.ToLower(f.console) {
	case "":
	case "telnet":
		consoleMode = model.ConsoleTelnet
	case "serial":
		consoleMode = model.ConsoleSerial
	default:
		return nil, fmt.Errorf(i18n.T("deploy.error_bad_console"), f.console)
	}

	password := f.password
	if password == "" && f.askPassword {
		fmt.Fprint(os.Stderr, i18n.T("deploy.password_prompt"))
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("could not read password: %w", err)
		}
		password = string(raw)
	}

	spec := &model.DeploymentSpec{
		Host:           f.host,
		Port:           f.port,
		User:           f.user,
		Password:       password,
		File:           f.file,
		Format:         model.FormatForFile(f.file),
		Mode:           mode,
		TimeoutSeconds: f.timeout,
		Commit: model.CommitOptions{
			Comment:        f.comment,
			ConfirmMinutes: f.confirm,
			WaitSeconds:    f.commitWait,
		},
		CheckMode: f.check,
		DiffFile:  f.diffFile,
		ViaSCP:    f.viaSCP,
		Console:   consoleMode,
		SaveDir:   f.saveDir,
		BaudRate:  f.baud,
	}

	// The console path defaults to overwrite; explicit --merge and
	// --replace are passed through. Set-format artifacts always apply as
	// line commands and keep the default mode.
	if consoleMode != model.ConsoleNone && !f.merge && !f.replace && spec.Format != model.FormatSet {
		spec.Mode = model.ModeOverwrite
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// recordRun writes the run into the audit history. History problems are
// logged, never escalated; the deployment outcome stands on its own.
func recordRun(cmd *cobra.Command, spec *model.DeploymentSpec, res *model.TransportResult) {
	transportName := "rpc"
	if spec.Console != model.ConsoleNone {
		transportName = "console"
	}
	run := &audit.Run{
		Host:      spec.Host,
		User:      spec.User,
		Mode:      string(spec.Mode),
		Transport: transportName,
		CheckMode: spec.CheckMode,
		Changed:   res.Changed,
		Outcome:   "success",
	}
	if res.Err != nil {
		run.Outcome = string(res.Err.Kind)
		run.Message = res.Err.Message
	}
	if err := auditStore.Record(cmd.Context(), run); err != nil {
		logging.Warnf("could not record run in history: %v", err)
	}
}

func init() {
	fl := deployCmd.Flags()
	fl.StringVar(&deployFlags.host, "host", "", "device hostname, address, or serial device path with --console serial")
	fl.IntVar(&deployFlags.port, "port", 0, "session port (default 830 for rpc, 23 for telnet)")
	fl.StringVarP(&deployFlags.user, "user", "u", "", "login user")
	fl.StringVar(&deployFlags.password, "password", "", "login password (omit to use an ssh agent)")
	fl.BoolVar(&deployFlags.askPassword, "ask-password", false, "prompt for the login password")
	fl.StringVarP(&deployFlags.file, "file", "f", "", "configuration artifact to deploy")
	fl.BoolVar(&deployFlags.merge, "merge", false, "merge the artifact into the active configuration")
	fl.BoolVar(&deployFlags.overwrite, "overwrite", false, "discard the active configuration entirely")
	fl.BoolVar(&deployFlags.replace, "replace", false, "replace only the hierarchies marked in the artifact")
	fl.IntVar(&deployFlags.timeout, "timeout", 0, "session timeout in seconds (0 = transport default)")
	fl.StringVar(&deployFlags.comment, "comment", "", "commit comment")
	fl.IntVar(&deployFlags.confirm, "confirm", 0, "auto-revert unless confirmed within N minutes")
	fl.IntVar(&deployFlags.commitWait, "commit-wait", 0, "pause between check and commit, 1-4 seconds")
	fl.BoolVar(&deployFlags.check, "check", false, "validate only, never commit")
	fl.StringVar(&deployFlags.diffFile, "diff-file", "", "write the computed diff to this file")
	fl.BoolVar(&deployFlags.viaSCP, "via-scp", false, "stage the artifact on the device over sftp and load by url")
	fl.StringVar(&deployFlags.console, "console", "", "out-of-band console transport: telnet or serial")
	fl.StringVar(&deployFlags.saveDir, "save-dir", "", "save a device facts snapshot here (console only)")
	fl.IntVar(&deployFlags.baud, "baud", 0, "serial line speed (default 9600)")

	_ = deployCmd.MarkFlagRequired("user")
}
