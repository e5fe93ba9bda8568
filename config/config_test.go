package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Replicator.RetryDelaySec != 10 {
		t.Errorf("retry delay = %d, want 10", cfg.Replicator.RetryDelaySec)
	}
	if cfg.Replicator.SizingMode != "proportional" {
		t.Errorf("sizing mode = %q, want proportional", cfg.Replicator.SizingMode)
	}
	if cfg.Server.Port != 8082 {
		t.Errorf("port = %d, want 8082", cfg.Server.Port)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	content := `
server:
  port: 9000
replicator:
  sizing_mode: fixed
leaders:
  - address: "0x1eade5"
    vault_id: "vault-1"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Replicator.SizingMode != "fixed" {
		t.Errorf("sizing mode = %q, want fixed", cfg.Replicator.SizingMode)
	}
	// Untouched fields keep defaults.
	if cfg.Replicator.RetryDelaySec != 10 {
		t.Errorf("retry delay = %d, want 10", cfg.Replicator.RetryDelaySec)
	}
	if len(cfg.Leaders) != 1 || cfg.Leaders[0].VaultID != "vault-1" {
		t.Errorf("leaders = %+v", cfg.Leaders)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"unknown sizing mode",
			"replicator:\n  sizing_mode: martingale\n",
		},
		{
			"leader missing vault",
			"leaders:\n  - address: \"0x1eade5\"\n",
		},
		{
			"invalid yaml",
			"replicator: [",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
