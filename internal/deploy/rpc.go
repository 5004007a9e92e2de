// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/toeirei/netdeploy/internal/logging"
	"github.com/toeirei/netdeploy/internal/model"
	"github.com/toeirei/netdeploy/internal/netconf"
)

// fileStager is the optional capability a driver offers for copying the
// artifact onto the device filesystem. The real netconf session implements
// it over SFTP.
type fileStager interface {
	StageFile(localPath string) (string, error)
	RemoveStaged(remotePath string) error
}

// RPCSession adapts the netconf driver to the staged transport variant.
type RPCSession struct {
	spec *model.DeploymentSpec
	drv  netconf.Driver

	// dial is swapped out by tests.
	dial func(netconf.DialOptions) (netconf.Driver, error)

	// stagedPath is the remote artifact location when the spec asked for
	// SFTP staging.
	stagedPath string
}

// NewRPCSession builds the staged transport for a spec.
func NewRPCSession(spec *model.DeploymentSpec) *RPCSession {
	return &RPCSession{
		spec: spec,
		dial: func(opts netconf.DialOptions) (netconf.Driver, error) {
			return netconf.Dial(opts)
		},
	}
}

// Open establishes the management session, applying the spec's timeout
// override when one is set.
func (r *RPCSession) Open(ctx context.Context) error {
	opts := netconf.DialOptions{
		Host:     r.spec.Host,
		Port:     r.spec.Port,
		User:     r.spec.User,
		Password: r.spec.Password,
	}
	if r.spec.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(r.spec.TimeoutSeconds) * time.Second
	}

	drv, err := r.dial(opts)
	if err != nil {
		return err
	}
	r.drv = drv
	return nil
}

// Lock takes the exclusive configuration lock.
func (r *RPCSession) Lock() error {
	return r.drv.Lock()
}

// Load stages the artifact under the spec's mode. With SFTP staging the
// file is first copied to the device and loaded by URL; otherwise its
// content is inlined into the load RPC.
func (r *RPCSession) Load() error {
	req := netconf.LoadRequest{
		Action: netconf.ActionForMode(r.spec.Mode, r.spec.Format),
		Format: r.spec.Format,
	}

	if r.spec.ViaSCP {
		stager, ok := r.drv.(fileStager)
		if !ok {
			return fmt.Errorf("this session cannot stage files on the device")
		}
		remote, err := stager.StageFile(r.spec.File)
		if err != nil {
			return fmt.Errorf("failed to stage artifact on device: %w", err)
		}
		r.stagedPath = remote
		req.URL = remote
	} else {
		content, err := os.ReadFile(r.spec.File)
		if err != nil {
			return fmt.Errorf("failed to read artifact %s: %w", r.spec.File, err)
		}
		req.Content = string(content)
	}

	return r.drv.LoadConfig(req)
}

// Diff returns the candidate/running difference.
func (r *RPCSession) Diff() (string, error) {
	return r.drv.Compare()
}

// Check validates the staged configuration without applying it.
func (r *RPCSession) Check() error {
	return r.drv.Validate()
}

// Commit applies the staged configuration with the requested options.
func (r *RPCSession) Commit(opts model.CommitOptions) error {
	return r.drv.Commit(netconf.CommitRequest{
		Comment:        opts.Comment,
		ConfirmMinutes: opts.ConfirmMinutes,
	})
}

// Unlock releases the configuration lock.
func (r *RPCSession) Unlock() error {
	return r.drv.Unlock()
}

// Close tears the session down. A staged artifact left on the device is
// removed best effort first.
func (r *RPCSession) Close() {
	if r.drv == nil {
		return
	}
	if r.stagedPath != "" {
		if stager, ok := r.drv.(fileStager); ok {
			if err := stager.RemoveStaged(r.stagedPath); err != nil {
				logging.Warnf("could not remove staged artifact: %v", err)
			}
		}
	}
	if err := r.drv.Close(); err != nil {
		logging.Debugf("error closing management session: %v", err)
	}
}
