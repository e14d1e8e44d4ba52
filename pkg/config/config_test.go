package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DownloadRetries != 3 {
		t.Errorf("DownloadRetries = %d, want 3", cfg.DownloadRetries)
	}
	if cfg.DownloadTimeout != 30*time.Second {
		t.Errorf("DownloadTimeout = %v, want 30s", cfg.DownloadTimeout)
	}
	if cfg.DownloadChunkSize != 128*1024 {
		t.Errorf("DownloadChunkSize = %d, want 128 KiB", cfg.DownloadChunkSize)
	}
	if cfg.CloneTimeout != 10*time.Minute {
		t.Errorf("CloneTimeout = %v, want 10m", cfg.CloneTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `download_retries = 5
clone_timeout = "20m"
log_file = "/var/log/pkgmng.json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DownloadRetries != 5 {
		t.Errorf("DownloadRetries = %d, want 5", cfg.DownloadRetries)
	}
	if cfg.CloneTimeout != 20*time.Minute {
		t.Errorf("CloneTimeout = %v, want 20m", cfg.CloneTimeout)
	}
	if cfg.LogFile != "/var/log/pkgmng.json" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
	// Unset keys keep their defaults.
	if cfg.DownloadTimeout != 30*time.Second {
		t.Errorf("DownloadTimeout = %v, want default 30s", cfg.DownloadTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("download_retries = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PKGMNG_DOWNLOAD_RETRIES", "7")

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DownloadRetries != 7 {
		t.Errorf("DownloadRetries = %d, want env override 7", cfg.DownloadRetries)
	}
}
