package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfigFile is the optional tuning config under ~/.pkgmng.
const GlobalConfigFile = "config.toml"

// Config holds operational tunables that are deliberately not part of any
// package's cache identity. Resolved with Viper precedence:
// environment (PKGMNG_*) > ~/.pkgmng/config.toml > built-in defaults.
type Config struct {
	// Download tuning.
	DownloadRetries   int           `toml:"download_retries" mapstructure:"download_retries"`
	DownloadTimeout   time.Duration `toml:"download_timeout" mapstructure:"download_timeout"`
	DownloadChunkSize int           `toml:"download_chunk_size" mapstructure:"download_chunk_size"`

	// Git subprocess bounds.
	CloneTimeout     time.Duration `toml:"clone_timeout" mapstructure:"clone_timeout"`
	FetchTimeout     time.Duration `toml:"fetch_timeout" mapstructure:"fetch_timeout"`
	ResetTimeout     time.Duration `toml:"reset_timeout" mapstructure:"reset_timeout"`
	SubmoduleTimeout time.Duration `toml:"submodule_timeout" mapstructure:"submodule_timeout"`

	// Diagnostic log rotation (used only when a log file is configured).
	LogFile       string `toml:"log_file" mapstructure:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb" mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups" mapstructure:"log_max_backups"`
}

// Load resolves the config from the default global path.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return load(filepath.Join(home, ".pkgmng", GlobalConfigFile))
}

// load is the internal implementation that accepts an explicit path, making
// it testable without touching the real home directory.
func load(globalPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	v.SetDefault("download_retries", 3)
	v.SetDefault("download_timeout", 30*time.Second)
	v.SetDefault("download_chunk_size", 128*1024)
	v.SetDefault("clone_timeout", 10*time.Minute)
	v.SetDefault("fetch_timeout", 2*time.Minute)
	v.SetDefault("reset_timeout", 30*time.Second)
	v.SetDefault("submodule_timeout", 2*time.Minute)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetConfigFile(globalPath)
	// Read global config; ignore if missing.
	_ = v.ReadInConfig()

	v.SetEnvPrefix("PKGMNG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}
