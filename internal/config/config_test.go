package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scanerrors "scanbridge/internal/errors"
	"scanbridge/internal/scan"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanbridge.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDefault_ScanTimings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1200*time.Millisecond, cfg.Scan.Debounce)
	assert.Equal(t, scan.DebounceWindow, cfg.Scan.Debounce)
	assert.Equal(t, 80*time.Millisecond, cfg.Scan.Haptic)
	assert.Equal(t, 20.0, cfg.Scan.Tolerance)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
port: 9000
max_sessions: 3
scan:
  tolerance: 35
  debounce: 2s
  symbologies: [qr, ean-13]
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 3, cfg.MaxSessions)
	assert.Equal(t, 35.0, cfg.Scan.Tolerance)
	assert.Equal(t, 2*time.Second, cfg.Scan.Debounce)
	assert.Equal(t, 80*time.Millisecond, cfg.Scan.Haptic)
	assert.Equal(t, []string{"qr", "ean-13"}, cfg.Scan.Symbologies)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 50, cfg.HistorySize)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.True(t, scanerrors.Is(err, scanerrors.ErrCodeConfigNotFound))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "port: [unterminated")
	_, err := Load(path)
	assert.True(t, scanerrors.Is(err, scanerrors.ErrCodeConfigInvalid))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "port: 9000\n")
	t.Setenv("SCANBRIDGE_PORT", "9100")
	t.Setenv("SCANBRIDGE_SYMBOLOGIES", "qr,code-39")
	t.Setenv("SCANBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, []string{"qr", "code-39"}, cfg.Scan.Symbologies)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad port", func(c *Config) { c.Port = 0 }, "port"},
		{"no sessions", func(c *Config) { c.MaxSessions = 0 }, "max_sessions"},
		{"negative tolerance", func(c *Config) { c.Scan.Tolerance = -1 }, "scan.tolerance"},
		{"zero tolerance", func(c *Config) { c.Scan.Tolerance = 0 }, "scan.tolerance"},
		{"zero debounce", func(c *Config) { c.Scan.Debounce = 0 }, "scan.debounce"},
		{"no symbologies", func(c *Config) { c.Scan.Symbologies = nil }, "scan.symbologies"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, scanerrors.ErrCodeConfigValidation, scanerrors.GetCode(err))

			var se *scanerrors.ScanError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.field, se.Details["field"])
		})
	}
}
