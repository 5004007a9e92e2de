// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package netconf implements the management-session driver used by the RPC
// transport. It speaks Junos-style XML RPCs over the SSH netconf subsystem:
// lock, load, compare, validate, commit, unlock. Higher layers only consume
// the Driver interface; tests substitute their own implementation.
package netconf

import "github.com/toeirei/netdeploy/internal/model"

// LoadRequest stages configuration content on the device.
type LoadRequest struct {
	// Action is the device-side load action: merge, replace, override or
	// set.
	Action string
	// Format of the payload: text, xml or set.
	Format model.ConfigFormat
	// Content is the inline payload. Ignored when URL is set.
	Content string
	// URL names a file on the device filesystem to load from instead of
	// inline content.
	URL string
}

// CommitRequest carries the options for a commit RPC.
type CommitRequest struct {
	// Check validates the candidate without applying it.
	Check bool
	// Comment is recorded in the device commit history.
	Comment string
	// ConfirmMinutes, when > 0, requests an auto-reverting confirmed
	// commit with that timeout.
	ConfirmMinutes int
}

// Driver is the management-session capability the RPC transport consumes.
// One Driver instance maps to one authenticated session; none of the
// methods retry.
type Driver interface {
	// Lock takes the exclusive lock on the candidate datastore.
	Lock() error
	// Unlock releases the lock taken by Lock.
	Unlock() error
	// LoadConfig stages configuration into the candidate datastore.
	LoadConfig(req LoadRequest) error
	// Compare returns the textual diff between the candidate and the
	// active configuration. Empty means no change.
	Compare() (string, error)
	// Validate runs a commit check against the candidate.
	Validate() error
	// Commit applies the candidate to the running configuration.
	Commit(req CommitRequest) error
	// Discard drops uncommitted candidate changes.
	Discard() error
	// Close ends the session.
	Close() error
}

// ActionForMode maps a load mode and artifact format onto the device-side
// load action. Line-command artifacts always load with the set action.
func ActionForMode(mode model.LoadMode, format model.ConfigFormat) string {
	if format == model.FormatSet {
		return "set"
	}
	switch mode {
	case model.ModeOverwrite:
		return "override"
	case model.ModeReplace:
		return "replace"
	default:
		return "merge"
	}
}
