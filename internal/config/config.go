package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ZipLimits bounds the work the archive pre-scan will admit. Every limit is
// checked against central-directory metadata before any entry is extracted.
type ZipLimits struct {
	MaxEntries         int   `yaml:"max_entries"`
	MaxSingleFileBytes int64 `yaml:"max_single_file_bytes"`
	MaxTotalBytes      int64 `yaml:"max_total_bytes"`
	MaxRatio           int   `yaml:"max_ratio"`
}

// OtelConfig mirrors internal/otel.Config for YAML binding.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MaintenanceConfig controls the orphaned-run sweep in daemon mode.
type MaintenanceConfig struct {
	// SweepSchedule is a cron expression; empty disables the sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
	// OrphanRunMaxAgeMinutes is how long a run may sit in `running` before
	// the sweep marks it failed as interrupted.
	OrphanRunMaxAgeMinutes int `yaml:"orphan_run_max_age_minutes"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Zip         ZipLimits         `yaml:"zip"`
	Otel        OtelConfig        `yaml:"otel"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

const (
	defaultMaxEntries         = 10000
	defaultMaxSingleFileBytes = 100 << 20 // 100 MiB
	defaultMaxTotalBytes      = 1 << 30   // 1 GiB
	defaultMaxRatio           = 100
)

// HomeDir resolves the user-data directory: CHATVAULT_HOME, else ~/.chatvault.
func HomeDir() string {
	if v := os.Getenv("CHATVAULT_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".chatvault")
}

// ConfigPath returns the config.yaml location under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml under the resolved home dir, applies env overrides,
// and normalizes defaults. A missing config file is not an error.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home dir (smoke runs inject a temp dir).
func LoadFrom(homeDir string) (Config, error) {
	cfg := Config{HomeDir: homeDir}

	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create chatvault home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(homeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Zip.MaxEntries <= 0 {
		cfg.Zip.MaxEntries = defaultMaxEntries
	}
	if cfg.Zip.MaxSingleFileBytes <= 0 {
		cfg.Zip.MaxSingleFileBytes = defaultMaxSingleFileBytes
	}
	if cfg.Zip.MaxTotalBytes <= 0 {
		cfg.Zip.MaxTotalBytes = defaultMaxTotalBytes
	}
	if cfg.Zip.MaxRatio <= 0 {
		cfg.Zip.MaxRatio = defaultMaxRatio
	}
	if cfg.Otel.Exporter == "" {
		// Local-only by default. OTLP must be opted into explicitly.
		cfg.Otel.Exporter = "none"
	}
	if cfg.Maintenance.OrphanRunMaxAgeMinutes <= 0 {
		cfg.Maintenance.OrphanRunMaxAgeMinutes = int((6 * time.Hour).Minutes())
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("VAULT_ZIP_MAX_ENTRIES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.Zip.MaxEntries = v
		}
	}
	if raw := os.Getenv("VAULT_ZIP_MAX_SINGLE_FILE_BYTES"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			cfg.Zip.MaxSingleFileBytes = v
		}
	}
	if raw := os.Getenv("VAULT_ZIP_MAX_TOTAL_BYTES"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			cfg.Zip.MaxTotalBytes = v
		}
	}
	if raw := os.Getenv("CHATVAULT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("CHATVAULT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
}
