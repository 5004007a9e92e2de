// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared across Netdeploy:
// the deployment request, the run result, and the error taxonomy. These
// types are plain data; all behavior lives in the transport and deploy
// packages.
package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ConfigFormat identifies how the configuration artifact is encoded.
type ConfigFormat string

const (
	// FormatText is curly-brace structured plain text.
	FormatText ConfigFormat = "text"
	// FormatXML is structured markup.
	FormatXML ConfigFormat = "xml"
	// FormatSet is a flat list of line commands.
	FormatSet ConfigFormat = "set"
)

// LoadMode selects how staged content is combined with the active
// configuration.
type LoadMode string

const (
	// ModeMerge merges the artifact into the active configuration.
	ModeMerge LoadMode = "merge"
	// ModeOverwrite discards the active configuration entirely.
	ModeOverwrite LoadMode = "overwrite"
	// ModeReplace replaces only the hierarchies marked in the artifact.
	ModeReplace LoadMode = "replace"
)

// ConsoleMode selects the out-of-band console connection type.
type ConsoleMode string

const (
	ConsoleNone   ConsoleMode = ""
	ConsoleTelnet ConsoleMode = "telnet"
	ConsoleSerial ConsoleMode = "serial"
)

// CommitOptions carries the options forwarded to the device commit call.
// The orchestrator only requests a confirm timer; issuing the confirming
// follow-up commit is the caller's responsibility.
type CommitOptions struct {
	// Comment is recorded in the device commit history.
	Comment string
	// ConfirmMinutes, when > 0, asks the device to auto-revert the change
	// unless a confirming commit arrives within that many minutes.
	ConfirmMinutes int
	// WaitSeconds pauses between commit-check and commit. Some devices
	// reject back-to-back check/commit calls. Valid range is 1..4.
	WaitSeconds int
}

// DeploymentSpec is a fully validated deployment request. The CLI (or any
// other caller) is responsible for credential acquisition and file
// existence checks before constructing one.
type DeploymentSpec struct {
	Host     string
	Port     int
	User     string
	Password string

	// File is the local path of the configuration artifact.
	File string
	// Format is derived from the artifact file name; see FormatForFile.
	Format ConfigFormat
	Mode   LoadMode

	// TimeoutSeconds applies to the whole session. 0 means the transport
	// default.
	TimeoutSeconds int

	Commit    CommitOptions
	CheckMode bool

	// DiffFile, when set, receives the computed diff text (whole-file
	// overwrite).
	DiffFile string

	// ViaSCP stages the artifact on the device filesystem over SFTP and
	// loads it by URL instead of inlining the content.
	ViaSCP bool

	// Console selects the out-of-band console transport when not
	// ConsoleNone. SaveDir and BaudRate only apply to the console path.
	Console  ConsoleMode
	SaveDir  string
	BaudRate int
}

// FormatForFile derives the configuration format from the artifact file
// name: .set/.cmd files carry line commands, .xml files structured markup,
// everything else curly-brace text.
func FormatForFile(path string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".set", ".cmd":
		return FormatSet
	case ".xml":
		return FormatXML
	default:
		return FormatText
	}
}

// Validate rejects specs that must never reach a transport. It is the
// fail-fast gate: no connection is attempted when it returns an error.
func (s *DeploymentSpec) Validate() error {
	if s.Host == "" {
		return &RunError{Kind: KindValidation, Message: "no host given"}
	}
	if s.Mode == ModeOverwrite && s.Format == FormatSet {
		return &RunError{Kind: KindValidation, Message: "a line-command artifact cannot overwrite the whole configuration"}
	}
	if w := s.Commit.WaitSeconds; w != 0 && (w < 1 || w > 4) {
		return &RunError{Kind: KindValidation, Message: fmt.Sprintf("commit wait must be between 1 and 4 seconds, got %d", w)}
	}
	if s.Console != ConsoleNone && s.CheckMode {
		return &RunError{Kind: KindValidation, Message: "check mode is not supported on the console transport"}
	}
	return nil
}

// ResolveMode maps the mutually exclusive overwrite/replace flags onto a
// LoadMode. Both set at once is a validation error; neither means merge.
func ResolveMode(overwrite, replace bool) (LoadMode, error) {
	if overwrite && replace {
		return "", &RunError{Kind: KindValidation, Message: "overwrite and replace are mutually exclusive"}
	}
	switch {
	case overwrite:
		return ModeOverwrite, nil
	case replace:
		return ModeReplace, nil
	default:
		return ModeMerge, nil
	}
}

// TransportResult is the outcome of one orchestrator run.
type TransportResult struct {
	// Changed reports whether the device configuration differs from its
	// pre-run state (or would, in check mode).
	Changed bool
	// Diff holds the textual configuration difference when one was
	// computed and requested.
	Diff string
	// Err is nil on success.
	Err *RunError
}

// ErrorKind names the stage that determined a failed run.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConnect    ErrorKind = "connect_error"
	KindLock       ErrorKind = "lock_error"
	KindLoad       ErrorKind = "load_error"
	KindCheck      ErrorKind = "check_error"
	KindCommit     ErrorKind = "commit_error"
	KindUnlock     ErrorKind = "unlock_error"
	KindConsole    ErrorKind = "console_error"
	KindDiffSink   ErrorKind = "diff_sink_error"
)

// RunError is a stage failure surfaced to the caller. Exactly one kind is
// reported per run: the stage that actually determined the outcome.
type RunError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewRunError wraps err with the failing stage's kind.
func NewRunError(kind ErrorKind, err error) *RunError {
	return &RunError{Kind: kind, Message: err.Error()}
}

// AsRunError extracts a *RunError from err, wrapping unknown errors under
// the given fallback kind so callers always see a classified failure.
func AsRunError(err error, fallback ErrorKind) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return NewRunError(fallback, err)
}
