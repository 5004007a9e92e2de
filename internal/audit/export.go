// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Export writes the complete run history as zstd-compressed JSON. The
// format is an array of Run objects, suitable for archival or ingestion
// elsewhere.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	runs, err := s.All(ctx)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}

	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode run history: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish compressed export: %w", err)
	}
	return nil
}

// Import reads a zstd-compressed JSON export and inserts every run it
// contains into the store.
func Import(ctx context.Context, s *Store, r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open compressed export: %w", err)
	}
	defer zr.Close()

	var runs []Run
	if err := json.NewDecoder(zr).Decode(&runs); err != nil {
		return 0, fmt.Errorf("failed to decode run history: %w", err)
	}

	for i := range runs {
		runs[i].ID = 0
		if err := s.Record(ctx, &runs[i]); err != nil {
			return i, err
		}
	}
	return len(runs), nil
}
