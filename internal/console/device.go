// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package console

import (
	"fmt"
	"strings"

	"github.com/toeirei/netdeploy/internal/model"
)

// Prompt fragments the expect loop keys on. Junos shells end in % (root
// shell), > (operational mode) or # (configuration mode).
const (
	promptLogin    = "login:"
	promptPassword = "assword:"
	promptShell    = "% "
	promptOper     = "> "
	promptConfig   = "# "
)

// endOfInput terminates terminal-mode loads (^D).
const endOfInput = "\x04"

// Login authenticates on the console and leaves the session at the
// operational-mode prompt.
func (s *Session) Login(user, password string) error {
	// Wake the line; console servers often sit on a stale prompt.
	if err := s.Send(""); err != nil {
		return err
	}
	if _, err := s.Expect(promptLogin); err != nil {
		return fmt.Errorf("no login prompt on console: %w", err)
	}
	if err := s.Send(user); err != nil {
		return err
	}
	out, err := s.Expect(promptPassword, promptShell, promptOper)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if strings.Contains(out, promptPassword) {
		if err := s.Send(password); err != nil {
			return err
		}
		out, err = s.Expect(promptShell, promptOper, promptLogin)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if strings.Contains(out, promptLogin) {
			return fmt.Errorf("console authentication rejected for user %s", user)
		}
	}
	// A root login lands in the shell; switch to the CLI.
	if strings.HasSuffix(strings.TrimRight(out, "\r\n"), strings.TrimSpace(promptShell)) || strings.Contains(out, promptShell) {
		if err := s.Send("cli"); err != nil {
			return err
		}
		if _, err := s.Expect(promptOper); err != nil {
			return fmt.Errorf("could not enter the cli: %w", err)
		}
	}
	return nil
}

// Run executes one operational-mode command and returns its output.
func (s *Session) Run(cmd string) (string, error) {
	if err := s.Send(cmd); err != nil {
		return "", err
	}
	out, err := s.Expect(promptOper)
	if err != nil {
		return "", fmt.Errorf("command %q did not return to a prompt: %w", cmd, err)
	}
	return out, nil
}

// Apply pushes the configuration in one shot: enter configuration mode,
// load the payload from the terminal, commit, and leave. It reports
// whether the device configuration actually changed. There are no
// separate lock/diff/check stages on this path; a failure at any point is
// one console error.
func (s *Session) Apply(content string, format model.ConfigFormat, mode model.LoadMode) (bool, error) {
	if err := s.Send("configure"); err != nil {
		return false, err
	}
	if _, err := s.Expect(promptConfig); err != nil {
		return false, fmt.Errorf("could not enter configuration mode: %w", err)
	}

	if err := s.Send(loadCommand(format, mode)); err != nil {
		return false, err
	}
	if _, err := s.Expect("end input"); err != nil {
		return false, fmt.Errorf("device did not accept terminal input: %w", err)
	}
	if err := s.SendRaw(content + "\n" + endOfInput); err != nil {
		return false, err
	}
	out, err := s.Expect(promptConfig)
	if err != nil {
		return false, fmt.Errorf("load did not finish: %w", err)
	}
	if hasCLIError(out) {
		s.abandon()
		return false, fmt.Errorf("device rejected the configuration: %s", firstErrorLine(out))
	}

	// An empty compare means there is nothing to commit; back out cleanly.
	if err := s.Send("show | compare"); err != nil {
		return false, err
	}
	out, err = s.Expect(promptConfig)
	if err != nil {
		return false, fmt.Errorf("compare did not finish: %w", err)
	}
	if emptyCompare(out) {
		s.abandon()
		return false, nil
	}

	if err := s.Send("commit and-quit"); err != nil {
		return false, err
	}
	out, err = s.Expect("commit complete", "error:", "failed")
	if err != nil {
		return false, fmt.Errorf("commit did not finish: %w", err)
	}
	if !strings.Contains(out, "commit complete") {
		s.abandon()
		return false, fmt.Errorf("commit failed: %s", firstErrorLine(out))
	}
	return true, nil
}

// Facts collects a device identification snapshot for the save directory.
func (s *Session) Facts() (string, error) {
	out, err := s.Run("show version | no-more")
	if err != nil {
		return "", fmt.Errorf("failed to gather device facts: %w", err)
	}
	return out, nil
}

// abandon rolls back and leaves configuration mode, best effort. The
// session may be in an odd state afterwards; callers are about to close
// it anyway.
func (s *Session) abandon() {
	_ = s.Send("rollback 0")
	_, _ = s.Expect(promptConfig)
	_ = s.Send("exit")
	_, _ = s.Expect(promptOper)
}

// loadCommand picks the terminal-mode load variant for the artifact.
func loadCommand(format model.ConfigFormat, mode model.LoadMode) string {
	if format == model.FormatSet {
		return "load set terminal"
	}
	switch mode {
	case model.ModeMerge:
		return "load merge terminal"
	case model.ModeReplace:
		return "load replace terminal"
	default:
		return "load override terminal"
	}
}

func hasCLIError(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "error:") || strings.HasPrefix(trimmed, "syntax error") {
			return true
		}
	}
	return false
}

func firstErrorLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "error:") || strings.HasPrefix(trimmed, "syntax error") || strings.Contains(trimmed, "failed") {
			return trimmed
		}
	}
	return strings.TrimSpace(tail(out, 120))
}

// emptyCompare reports whether a `show | compare` output contains no
// configuration changes.
func emptyCompare(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "show | compare"):
		case strings.HasPrefix(trimmed, "[edit"):
			return false
		case strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "-"), strings.HasPrefix(trimmed, "!"):
			return false
		}
	}
	return true
}
