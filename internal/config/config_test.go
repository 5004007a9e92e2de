// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("language", "", "")
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	// Run from an empty directory so a stray netdeploy.yaml in the
	// working tree cannot leak into the test.
	t.Chdir(t.TempDir())

	defaults := map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./netdeploy.db",
		"language":      "en",
	}

	c, err := LoadConfig[Config](testCommand(), defaults, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Database.Type != "sqlite" {
		t.Errorf("database.type = %q, want sqlite", c.Database.Type)
	}
	if c.Language != "en" {
		t.Errorf("language = %q, want en", c.Language)
	}
}

func TestLoadConfigExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "database:\n  type: postgres\n  dsn: postgres://localhost/audit\nlanguage: de\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig[Config](testCommand(), map[string]any{"language": "en"}, &path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Database.Type != "postgres" {
		t.Errorf("database.type = %q, want postgres", c.Database.Type)
	}
	if c.Language != "de" {
		t.Errorf("language = %q, want de", c.Language)
	}
}

func TestFlagOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("language: de\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := testCommand()
	if err := cmd.Flags().Set("language", "en"); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig[Config](cmd, nil, &path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Language != "en" {
		t.Errorf("flag should win over file, got %q", c.Language)
	}
}
