package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Listen)
	assert.Equal(t, "embedded", cfg.Engine.Mode)
	assert.Equal(t, 500, cfg.Engine.DPI)
	assert.Equal(t, 0.01, cfg.Engine.TargetFAR)
	assert.Equal(t, 40.0, cfg.Engine.DefaultThreshold)
	assert.Equal(t, 256, cfg.Capture.Width)
	assert.Equal(t, 288, cfg.Capture.Height)

	assert.Equal(t, filepath.Join("data", "images"), cfg.Paths.GalleryDir)
	assert.Equal(t, filepath.Join("data", "db"), cfg.Paths.TemplateDBDir)
	assert.Equal(t, filepath.Join("data", "staging"), cfg.Paths.StagingDir)
	assert.Equal(t, filepath.Join("data", "threshold.json"), cfg.Paths.ThresholdFile)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "afisd.toml")
	body := `
[server]
listen = ":9090"

[paths]
data_dir = "/var/lib/afisd"

[engine]
mode = "cli"
binary = "/usr/local/bin/afis-engine"
dpi = 508
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "cli", cfg.Engine.Mode)
	assert.Equal(t, 508, cfg.Engine.DPI)
	assert.Equal(t, filepath.Join("/var/lib/afisd", "images"), cfg.Paths.GalleryDir)
	// Untouched defaults survive a partial file.
	assert.Equal(t, 300, cfg.Engine.TimeoutSeconds)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "embedded", cfg.Engine.Mode)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cli without binary", func(c *Config) { c.Engine.Mode = "cli"; c.Engine.Binary = "" }},
		{"unknown mode", func(c *Config) { c.Engine.Mode = "quantum" }},
		{"zero dpi", func(c *Config) { c.Engine.DPI = 0 }},
		{"far out of range", func(c *Config) { c.Engine.TargetFAR = 1.5 }},
		{"bad geometry", func(c *Config) { c.Capture.Width = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
