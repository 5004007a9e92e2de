// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/netdeploy/internal/i18n"
	"github.com/toeirei/netdeploy/internal/netconf"
)

// probeCmd opens a management session and reports success without touching
// the configuration. Useful to verify reachability and credentials before
// a deployment window.
var probeCmd = &cobra.Command{
	Use:     "probe",
	Short:   "Verify a device is reachable over the management protocol",
	Args:    cobra.NoArgs,
	PreRunE: setupDefaultServices,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		user, _ := cmd.Flags().GetString("user")
		password, _ := cmd.Flags().GetString("password")
		timeout, _ := cmd.Flags().GetInt("timeout")

		if host == "" {
			return errors.New(i18n.T("probe.error_no_host"))
		}

		opts := netconf.DialOptions{Host: host, Port: port, User: user, Password: password}
		if timeout > 0 {
			opts.Timeout = time.Duration(timeout) * time.Second
		}

		sess, err := netconf.Dial(opts)
		if err != nil {
			return fmt.Errorf(i18n.T("probe.error_unreachable"), host, err)
		}
		defer sess.Close()

		fmt.Println(i18n.T("probe.ok", host))
		return nil
	},
}

func init() {
	probeCmd.Flags().String("host", "", "device hostname or address")
	probeCmd.Flags().Int("port", 0, "management session port (default 830)")
	probeCmd.Flags().StringP("user", "u", "", "login user")
	probeCmd.Flags().String("password", "", "login password (omit to use an ssh agent)")
	probeCmd.Flags().Int("timeout", 0, "session timeout in seconds")
	_ = probeCmd.MarkFlagRequired("user")
}
