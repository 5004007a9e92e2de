// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package netconf

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// stageDir is where staged artifacts land on the device filesystem.
const stageDir = "/var/tmp"

// StageFile copies the local artifact onto the device over SFTP and returns
// the remote path, so large configurations can be loaded by URL instead of
// being inlined into an RPC. The caller removes the file with RemoveStaged
// once the run is over.
func (s *Session) StageFile(localPath string) (string, error) {
	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return "", fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	remotePath := path.Join(stageDir, fmt.Sprintf("netdeploy.%d%s", time.Now().UnixNano(), path.Ext(localPath)))
	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to create staged file on device: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		// Best effort to clean up the failed upload.
		_ = sftpClient.Remove(remotePath)
		return "", fmt.Errorf("failed to copy artifact to device: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = sftpClient.Remove(remotePath)
		return "", fmt.Errorf("failed to finish staged upload: %w", err)
	}

	return remotePath, nil
}

// RemoveStaged deletes a file previously placed by StageFile. Failures are
// returned for logging; a leftover staging file is harmless.
func (s *Session) RemoveStaged(remotePath string) error {
	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil {
		return fmt.Errorf("failed to remove staged file %s: %w", remotePath, err)
	}
	return nil
}
