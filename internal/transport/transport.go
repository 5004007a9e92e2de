// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package transport defines the session capabilities a deployment runs
// against. Two variants exist: a staged session with fine-grained
// lock/load/diff/check/commit stages, and an atomic session where the whole
// apply is one opaque call. Console sessions genuinely lack lock, diff and
// check semantics, so the variants are separate interfaces rather than one
// interface with no-op methods; the orchestrator type-switches on the
// variant it is handed.
package transport

import (
	"context"

	"github.com/toeirei/netdeploy/internal/model"
)

// Session is the capability shared by both transport variants. Open must be
// called before any other method; Close is safe to call on every exit path,
// including after a failed Open.
type Session interface {
	Open(ctx context.Context) error
	Close()
}

// StagedSession is the fine-grained RPC variant. The orchestrator drives
// the stages in order and guarantees Unlock is attempted exactly once on
// every path where Lock succeeded.
type StagedSession interface {
	Session

	// Lock acquires the exclusive configuration lock.
	Lock() error
	// Load stages the artifact under the spec's mode. Warnings the
	// transport promotes to errors are load failures.
	Load() error
	// Diff returns the textual difference between the staged and active
	// configuration. An empty string means nothing would change.
	Diff() (string, error)
	// Check validates the staged configuration without applying it.
	Check() error
	// Commit applies the staged configuration.
	Commit(opts model.CommitOptions) error
	// Unlock releases the configuration lock.
	Unlock() error
}

// AtomicSession is the coarse out-of-band variant: staging, validation and
// commit are bundled into one apply call.
type AtomicSession interface {
	Session

	// Apply pushes the artifact and reports whether the device
	// configuration changed.
	Apply() (changed bool, err error)
}
