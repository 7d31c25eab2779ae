// Package config loads scanbridge settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/scan"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "scanbridge.yml"

// Config holds server configuration.
type Config struct {
	Port        int           `yaml:"port"`
	StaticDir   string        `yaml:"static_dir"`
	MaxSessions int           `yaml:"max_sessions"`
	HistorySize int           `yaml:"history_size"`
	Scan        ScanConfig    `yaml:"scan"`
	Logging     LoggingConfig `yaml:"logging"`
}

// ScanConfig tunes the scan session controller and the decoder.
type ScanConfig struct {
	// Tolerance is the ± pixel band around the guide line.
	Tolerance float64 `yaml:"tolerance"`
	// Debounce is the minimum gap between two accepted reads. Defaults to
	// scan.DebounceWindow; override only for unusual hardware.
	Debounce time.Duration `yaml:"debounce"`
	// Haptic is the vibration length on accept.
	Haptic time.Duration `yaml:"haptic"`
	// Symbologies lists the code types the decoder looks for.
	Symbologies []string `yaml:"symbologies"`
	TryHarder   bool     `yaml:"try_harder"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "auto" (default), "text" or "json"
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        8420,
		StaticDir:   "",
		MaxSessions: 10,
		HistorySize: 50,
		Scan: ScanConfig{
			Tolerance:   scan.DefaultTolerance,
			Debounce:    scan.DebounceWindow,
			Haptic:      scan.HapticPulse,
			Symbologies: []string{"qr", "code-128", "ean-13", "ean-8", "code-39"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path tries DefaultFile and silently keeps defaults if it is absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, scanerrors.Wrap(err, scanerrors.ErrCodeConfigInvalid, "parse "+path)
		}
	case os.IsNotExist(err) && !explicit:
	case os.IsNotExist(err):
		return cfg, scanerrors.ConfigNotFound(path)
	default:
		return cfg, scanerrors.Wrap(err, scanerrors.ErrCodeConfigInvalid, "read "+path)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SCANBRIDGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SCANBRIDGE_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("SCANBRIDGE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("SCANBRIDGE_SCAN_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scan.Tolerance = f
		}
	}
	if v := os.Getenv("SCANBRIDGE_SYMBOLOGIES"); v != "" {
		cfg.Scan.Symbologies = strings.Split(v, ",")
	}
	if v := os.Getenv("SCANBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCANBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return validation("port", fmt.Sprintf("out of range: %d", c.Port))
	}
	if c.MaxSessions < 1 {
		return validation("max_sessions", "must be at least 1")
	}
	if c.HistorySize < 1 {
		return validation("history_size", "must be at least 1")
	}
	if c.Scan.Tolerance <= 0 {
		return validation("scan.tolerance", "must be positive")
	}
	if c.Scan.Debounce <= 0 {
		return validation("scan.debounce", "must be positive")
	}
	if c.Scan.Haptic <= 0 {
		return validation("scan.haptic", "must be positive")
	}
	if len(c.Scan.Symbologies) == 0 {
		return validation("scan.symbologies", "at least one symbology is required")
	}
	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return validation("logging.format", "must be auto, text or json")
	}
	return nil
}

func validation(field, reason string) error {
	return scanerrors.New(scanerrors.ErrCodeConfigValidation, field+": "+reason).
		WithDetail("field", field)
}
