// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy drives a configuration deployment as one atomic
// transaction: lock, load, diff, optional check, commit, unlock. The
// orchestrator runs against whichever transport variant the spec selects
// and guarantees that a held lock is released exactly once and the session
// is closed on every exit path.
package deploy

import (
	"context"
	"time"

	"github.com/toeirei/netdeploy/internal/i18n"
	"github.com/toeirei/netdeploy/internal/logging"
	"github.com/toeirei/netdeploy/internal/model"
	"github.com/toeirei/netdeploy/internal/transport"
)

// Run validates the spec, selects a transport and executes the deployment.
// Validation failures never reach a transport.
func Run(ctx context.Context, spec *model.DeploymentSpec) *model.TransportResult {
	if err := spec.Validate(); err != nil {
		return &model.TransportResult{Err: model.AsRunError(err, model.KindValidation)}
	}
	return RunWithSession(ctx, spec, NewSession(spec))
}

// NewSession selects the transport: the presence of a console connection
// descriptor picks the out-of-band console transport, everything else goes
// through the RPC session.
func NewSession(spec *model.DeploymentSpec) transport.Session {
	if spec.Console != model.ConsoleNone {
		return NewConsoleSession(spec)
	}
	return NewRPCSession(spec)
}

// RunWithSession executes the state machine against an already-constructed
// session. It is the seam the tests inject fake transports through.
func RunWithSession(ctx context.Context, spec *model.DeploymentSpec, sess transport.Session) *model.TransportResult {
	var res *model.TransportResult
	switch s := sess.(type) {
	case transport.StagedSession:
		res = runStaged(ctx, spec, s)
	case transport.AtomicSession:
		res = runAtomic(ctx, spec, s)
	default:
		res = &model.TransportResult{Err: &model.RunError{
			Kind:    model.KindValidation,
			Message: "unknown transport variant",
		}}
	}

	// Externalize the diff last: the sink reflects what actually happened
	// on the device. A sink failure is a hard failure of the run even when
	// the device-side commit already succeeded.
	if res.Err == nil && spec.DiffFile != "" && res.Diff != "" {
		if err := WriteDiff(spec.DiffFile, res.Diff); err != nil {
			res.Err = model.AsRunError(err, model.KindDiffSink)
		}
	}
	return res
}

// runStaged is the fine-grained RPC path:
// CONNECTING → LOCKED → LOADED → DIFFED → [CHECKED] → COMMITTED → UNLOCKED.
func runStaged(ctx context.Context, spec *model.DeploymentSpec, s transport.StagedSession) *model.TransportResult {
	res := &model.TransportResult{}

	if err := s.Open(ctx); err != nil {
		res.Err = model.AsRunError(err, model.KindConnect)
		return res
	}
	defer s.Close()

	if err := s.Lock(); err != nil {
		// Nothing is held; the session is closed without an unlock.
		res.Err = model.AsRunError(err, model.KindLock)
		return res
	}

	// From here on the lock must be released exactly once, whatever
	// happens. An unlock failure never overrides the run's outcome.
	unlocked := false
	unlock := func() {
		if unlocked {
			return
		}
		unlocked = true
		if err := s.Unlock(); err != nil {
			logging.Warnf(i18n.T("deploy.warn_unlock_failed"), err)
		}
	}
	defer unlock()

	if err := s.Load(); err != nil {
		res.Err = model.AsRunError(err, model.KindLoad)
		return res
	}

	diff, err := s.Diff()
	if err != nil {
		res.Err = model.AsRunError(err, model.KindLoad)
		return res
	}
	if diff == "" {
		// Nothing would change: skip check and commit entirely.
		logging.Debugf("empty diff for %s, nothing to commit", spec.Host)
		return res
	}
	res.Changed = true
	res.Diff = diff

	if err := s.Check(); err != nil {
		res.Err = model.AsRunError(err, model.KindCheck)
		return res
	}

	if spec.CheckMode {
		// Dry run: staging and validation only, never a commit.
		return res
	}

	if w := spec.Commit.WaitSeconds; w > 0 {
		// Throttle for devices that reject back-to-back check/commit
		// calls.
		time.Sleep(time.Duration(w) * time.Second)
	}

	if err := s.Commit(spec.Commit); err != nil {
		res.Err = model.AsRunError(err, model.KindCommit)
		return res
	}

	return res
}

// runAtomic is the coarse console path: CONNECT → APPLY → DONE. Staging,
// validation and commit are bundled into the single apply call; any fault
// maps to a console error.
func runAtomic(ctx context.Context, spec *model.DeploymentSpec, s transport.AtomicSession) *model.TransportResult {
	res := &model.TransportResult{}

	if err := s.Open(ctx); err != nil {
		res.Err = model.AsRunError(err, model.KindConsole)
		return res
	}
	defer s.Close()

	changed, err := s.Apply()
	if err != nil {
		res.Err = model.AsRunError(err, model.KindConsole)
		return res
	}
	res.Changed = changed
	return res
}
