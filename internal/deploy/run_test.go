// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/toeirei/netdeploy/internal/model"
)

// fakeStaged is a scripted StagedSession that records the stage calls in
// order.
type fakeStaged struct {
	calls []string
	diff  string

	openErr   error
	lockErr   error
	loadErr   error
	diffErr   error
	checkErr  error
	commitErr error
	unlockErr error
}

func (f *fakeStaged) Open(ctx context.Context) error {
	f.calls = append(f.calls, "open")
	return f.openErr
}
func (f *fakeStaged) Lock() error {
	f.calls = append(f.calls, "lock")
	return f.lockErr
}
func (f *fakeStaged) Load() error {
	f.calls = append(f.calls, "load")
	return f.loadErr
}
func (f *fakeStaged) Diff() (string, error) {
	f.calls = append(f.calls, "diff")
	return f.diff, f.diffErr
}
func (f *fakeStaged) Check() error {
	f.calls = append(f.calls, "check")
	return f.checkErr
}
func (f *fakeStaged) Commit(opts model.CommitOptions) error {
	f.calls = append(f.calls, "commit")
	return f.commitErr
}
func (f *fakeStaged) Unlock() error {
	f.calls = append(f.calls, "unlock")
	return f.unlockErr
}
func (f *fakeStaged) Close() {
	f.calls = append(f.calls, "close")
}

func (f *fakeStaged) count(stage string) int {
	n := 0
	for _, c := range f.calls {
		if c == stage {
			n++
		}
	}
	return n
}

func specForTest() *model.DeploymentSpec {
	return &model.DeploymentSpec{
		Host:   "device1",
		User:   "automation",
		File:   "config.set",
		Format: model.FormatSet,
		Mode:   model.ModeMerge,
	}
}

func TestStagedRunCommits(t *testing.T) {
	// A merged set artifact with a non-empty diff commits exactly once.
	s := &fakeStaged{diff: "[edit system]\n+  host-name lab;"}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Changed {
		t.Error("expected changed=true")
	}
	if res.Diff == "" {
		t.Error("expected diff to be populated")
	}
	if got := s.count("commit"); got != 1 {
		t.Errorf("expected exactly one commit, got %d", got)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock, got %d", got)
	}
	if got := s.count("close"); got != 1 {
		t.Errorf("expected exactly one close, got %d", got)
	}
}

func TestValidationFailsBeforeTransport(t *testing.T) {
	// Invalid requests are rejected before any transport is touched.
	if _, err := model.ResolveMode(true, true); err == nil {
		t.Fatal("expected overwrite+replace to be rejected")
	}

	spec := specForTest()
	spec.Commit.WaitSeconds = 9
	res := Run(context.Background(), spec)
	if res.Err == nil || res.Err.Kind != model.KindValidation {
		t.Fatalf("expected validation error, got %v", res.Err)
	}
}

func TestLockFailureSkipsUnlock(t *testing.T) {
	// Nothing is held after a failed lock, so no unlock; the session
	// still closes.
	s := &fakeStaged{lockErr: errors.New("configuration database locked by user bob")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err == nil || res.Err.Kind != model.KindLock {
		t.Fatalf("expected lock_error, got %v", res.Err)
	}
	if got := s.count("unlock"); got != 0 {
		t.Errorf("expected no unlock after failed lock, got %d", got)
	}
	if got := s.count("close"); got != 1 {
		t.Errorf("expected session close, got %d", got)
	}
}

func TestEmptyDiffSkipsCheckAndCommit(t *testing.T) {
	s := &fakeStaged{diff: ""}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Changed {
		t.Error("expected changed=false for an empty diff")
	}
	if got := s.count("check"); got != 0 {
		t.Errorf("check must not run on an empty diff, ran %d times", got)
	}
	if got := s.count("commit"); got != 0 {
		t.Errorf("commit must not run on an empty diff, ran %d times", got)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock, got %d", got)
	}
}

func TestCheckModeNeverCommits(t *testing.T) {
	// A dry run with a non-empty diff validates but never commits.
	s := &fakeStaged{diff: "[edit interfaces]\n+  ge-0/0/1;"}
	spec := specForTest()
	spec.CheckMode = true
	res := RunWithSession(context.Background(), spec, s)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Changed {
		t.Error("expected changed=true in check mode with a diff")
	}
	if res.Diff == "" {
		t.Error("expected diff to be populated in check mode")
	}
	if got := s.count("check"); got != 1 {
		t.Errorf("expected exactly one check, got %d", got)
	}
	if got := s.count("commit"); got != 0 {
		t.Errorf("check mode must never commit, committed %d times", got)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock, got %d", got)
	}
}

func TestDiffSinkFailureFailsRun(t *testing.T) {
	// The commit goes through, then the sink write fails the run.
	s := &fakeStaged{diff: "[edit system]\n+  services netconf;"}
	spec := specForTest()
	spec.DiffFile = filepath.Join(t.TempDir(), "no-such-dir", "out.diff")
	res := RunWithSession(context.Background(), spec, s)

	if res.Err == nil || res.Err.Kind != model.KindDiffSink {
		t.Fatalf("expected diff_sink_error, got %v", res.Err)
	}
	if got := s.count("commit"); got != 1 {
		t.Errorf("commit should have happened before the sink failure, got %d", got)
	}
}

func TestDiffSinkWritesWholeFile(t *testing.T) {
	s := &fakeStaged{diff: "[edit system]\n+  services netconf;"}
	spec := specForTest()
	path := filepath.Join(t.TempDir(), "out.diff")
	if err := os.WriteFile(path, []byte("stale content from a previous run"), 0o644); err != nil {
		t.Fatal(err)
	}
	spec.DiffFile = path

	res := RunWithSession(context.Background(), spec, s)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != s.diff+"\n" {
		t.Errorf("sink content = %q, want the diff", string(data))
	}
}

func TestLoadFailureStillUnlocks(t *testing.T) {
	s := &fakeStaged{loadErr: errors.New("syntax error in artifact")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err == nil || res.Err.Kind != model.KindLoad {
		t.Fatalf("expected load_error, got %v", res.Err)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock after load failure, got %d", got)
	}
	if got := s.count("close"); got != 1 {
		t.Errorf("expected session close, got %d", got)
	}
}

func TestCheckFailureStillUnlocks(t *testing.T) {
	s := &fakeStaged{diff: "[edit]\n+ x;", checkErr: errors.New("constraint violation")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err == nil || res.Err.Kind != model.KindCheck {
		t.Fatalf("expected check_error, got %v", res.Err)
	}
	if got := s.count("commit"); got != 0 {
		t.Errorf("commit must not run after a failed check, ran %d times", got)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock after check failure, got %d", got)
	}
}

func TestCommitFailureStillUnlocks(t *testing.T) {
	s := &fakeStaged{diff: "[edit]\n+ x;", commitErr: errors.New("commit failed: daemon unresponsive")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err == nil || res.Err.Kind != model.KindCommit {
		t.Fatalf("expected commit_error, got %v", res.Err)
	}
	if got := s.count("unlock"); got != 1 {
		t.Errorf("expected exactly one unlock after commit failure, got %d", got)
	}
}

func TestUnlockFailureDoesNotOverrideOutcome(t *testing.T) {
	s := &fakeStaged{diff: "[edit]\n+ x;", unlockErr: errors.New("lock already gone")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err != nil {
		t.Fatalf("unlock failure must not fail the run, got %v", res.Err)
	}
	if !res.Changed {
		t.Error("expected changed=true")
	}
}

func TestConnectFailure(t *testing.T) {
	s := &fakeStaged{openErr: errors.New("connection refused")}
	res := RunWithSession(context.Background(), specForTest(), s)

	if res.Err == nil || res.Err.Kind != model.KindConnect {
		t.Fatalf("expected connect_error, got %v", res.Err)
	}
	if got := s.count("lock"); got != 0 {
		t.Errorf("no lock attempt expected after failed connect, got %d", got)
	}
}

// fakeAtomic is a scripted AtomicSession.
type fakeAtomic struct {
	calls    []string
	changed  bool
	openErr  error
	applyErr error
}

func (f *fakeAtomic) Open(ctx context.Context) error {
	f.calls = append(f.calls, "open")
	return f.openErr
}
func (f *fakeAtomic) Apply() (bool, error) {
	f.calls = append(f.calls, "apply")
	return f.changed, f.applyErr
}
func (f *fakeAtomic) Close() {
	f.calls = append(f.calls, "close")
}

func TestAtomicRun(t *testing.T) {
	// A successful console apply reports whether the device changed.
	s := &fakeAtomic{changed: true}
	spec := specForTest()
	spec.Console = model.ConsoleTelnet
	res := RunWithSession(context.Background(), spec, s)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Changed {
		t.Error("expected changed=true")
	}
	if len(s.calls) != 3 || s.calls[0] != "open" || s.calls[1] != "apply" || s.calls[2] != "close" {
		t.Errorf("unexpected call sequence: %v", s.calls)
	}
}

func TestAtomicFaultMapsToConsoleError(t *testing.T) {
	tests := []struct {
		name string
		s    *fakeAtomic
	}{
		{"open failure", &fakeAtomic{openErr: errors.New("no route to host")}},
		{"apply failure", &fakeAtomic{applyErr: errors.New("commit failed: error: syntax error")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := specForTest()
			spec.Console = model.ConsoleTelnet
			res := RunWithSession(context.Background(), spec, tt.s)
			if res.Err == nil || res.Err.Kind != model.KindConsole {
				t.Fatalf("expected console_error, got %v", res.Err)
			}
		})
	}
}

func TestTransportSelection(t *testing.T) {
	spec := specForTest()
	if _, ok := NewSession(spec).(*RPCSession); !ok {
		t.Error("expected the RPC transport without a console descriptor")
	}
	spec.Console = model.ConsoleTelnet
	if _, ok := NewSession(spec).(*ConsoleSession); !ok {
		t.Error("expected the console transport with a console descriptor")
	}
}
