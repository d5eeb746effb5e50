package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoadFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("discord_token: file-token\nlog_level: debug\nmitigation:\n  workers: 2\n  purge_scan_limit: 500\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("MITIGATION_QUEUE_SIZE", "32")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.DiscordToken)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.LogLevel)
	}
	if cfg.Mitigation.Workers != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.Mitigation.Workers)
	}
	if cfg.Mitigation.QueueSize != 32 {
		t.Fatalf("expected queue 32, got %d", cfg.Mitigation.QueueSize)
	}
	if cfg.Mitigation.PurgeScanLimit != MaxPurgeScan {
		t.Fatalf("expected purge scan clamped to %d, got %d", MaxPurgeScan, cfg.Mitigation.PurgeScanLimit)
	}
}

func TestLoadFileRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mitigation: [nope"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DISCORD_TOKEN", "token")
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("warn") != zapcore.WarnLevel {
		t.Fatalf("expected warn level")
	}
	if parseLevel("verbose") != zapcore.InfoLevel {
		t.Fatalf("unknown levels should fall back to info")
	}
}
