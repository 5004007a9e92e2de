// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"os"
	"strings"
)

// WriteDiff externalizes the computed diff to the sink path as a
// whole-file overwrite. Failing to write the sink is a hard error for the
// run, even when the device-side commit already succeeded.
func WriteDiff(path, diff string) error {
	if !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	if err := os.WriteFile(path, []byte(diff), 0o644); err != nil {
		return fmt.Errorf("failed to write diff to %s: %w", path, err)
	}
	return nil
}
