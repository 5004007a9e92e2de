// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toeirei/netdeploy/internal/console"
	"github.com/toeirei/netdeploy/internal/logging"
	"github.com/toeirei/netdeploy/internal/model"
)

// consoleConn is the slice of console.Session the adapter needs; tests
// substitute their own implementation.
type consoleConn interface {
	Login(user, password string) error
	Apply(content string, format model.ConfigFormat, mode model.LoadMode) (bool, error)
	Facts() (string, error)
	Close() error
}

// ConsoleSession adapts the out-of-band console to the atomic transport
// variant. Mode defaults to overwrite on this path; explicit merge and
// replace requests are passed through.
type ConsoleSession struct {
	spec *model.DeploymentSpec
	sess consoleConn

	// dial is swapped out by tests.
	dial func(console.DialOptions) (consoleConn, error)
}

// NewConsoleSession builds the console transport for a spec.
func NewConsoleSession(spec *model.DeploymentSpec) *ConsoleSession {
	return &ConsoleSession{
		spec: spec,
		dial: func(opts console.DialOptions) (consoleConn, error) {
			return console.Dial(opts)
		},
	}
}

// Open connects to the console and authenticates. For serial consoles the
// spec's host names the local serial device.
func (c *ConsoleSession) Open(ctx context.Context) error {
	opts := console.DialOptions{
		Telnet: c.spec.Console == model.ConsoleTelnet,
		Host:   c.spec.Host,
		Port:   c.spec.Port,
		Device: c.spec.Host,
		Baud:   c.spec.BaudRate,
	}
	if c.spec.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(c.spec.TimeoutSeconds) * time.Second
	}

	sess, err := c.dial(opts)
	if err != nil {
		return err
	}
	if err := sess.Login(c.spec.User, c.spec.Password); err != nil {
		sess.Close()
		return err
	}
	c.sess = sess
	return nil
}

// Apply pushes the artifact in one shot and reports whether the device
// changed. When a save directory is configured, a device facts snapshot is
// written there after the apply; a snapshot failure never fails the run.
func (c *ConsoleSession) Apply() (bool, error) {
	content, err := os.ReadFile(c.spec.File)
	if err != nil {
		return false, fmt.Errorf("failed to read artifact %s: %w", c.spec.File, err)
	}

	changed, err := c.sess.Apply(string(content), c.spec.Format, c.spec.Mode)
	if err != nil {
		return false, err
	}

	if c.spec.SaveDir != "" {
		c.saveFacts()
	}
	return changed, nil
}

// Close tears down the console connection.
func (c *ConsoleSession) Close() {
	if c.sess == nil {
		return
	}
	if err := c.sess.Close(); err != nil {
		logging.Debugf("error closing console: %v", err)
	}
}

// saveFacts writes a device identification snapshot into the save
// directory, named after the host.
func (c *ConsoleSession) saveFacts() {
	facts, err := c.sess.Facts()
	if err != nil {
		logging.Warnf("could not gather device facts: %v", err)
		return
	}
	path := filepath.Join(c.spec.SaveDir, c.spec.Host+"-inventory.txt")
	if err := os.WriteFile(path, []byte(facts), 0o644); err != nil {
		logging.Warnf("could not save device facts to %s: %v", path, err)
	}
}
