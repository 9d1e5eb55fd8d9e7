// Package config loads and validates afisd configuration from a TOML file.
// Unset fields fall back to the struct-tag defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

// Server holds the HTTP listener settings.
type Server struct {
	Listen      string `toml:"listen" default:":3000"`
	BodyLimitMB int    `toml:"body_limit_mb" default:"8"`
}

// Paths holds the on-disk layout. Only DataDir is usually set; the
// remaining paths derive from it when left empty.
type Paths struct {
	DataDir       string `toml:"data_dir" default:"data"`
	GalleryDir    string `toml:"gallery_dir"`
	TemplateDBDir string `toml:"template_db_dir"`
	StagingDir    string `toml:"staging_dir"`
	ThresholdFile string `toml:"threshold_file"`
	JournalFile   string `toml:"journal_file"`
	LogDir        string `toml:"log_dir"`
}

// Engine selects and tunes the matcher backend.
type Engine struct {
	// Mode is "embedded" (in-process sourceafis) or "cli" (external binary).
	Mode             string  `toml:"mode" default:"embedded"`
	Binary           string  `toml:"binary"`
	DPI              int     `toml:"dpi" default:"500"`
	TargetFAR        float64 `toml:"target_far" default:"0.01"`
	DefaultThreshold float64 `toml:"default_threshold" default:"40"`
	TimeoutSeconds   int     `toml:"timeout_seconds" default:"300"`
}

// Capture holds the default sensor frame geometry.
type Capture struct {
	Width  int `toml:"width" default:"256"`
	Height int `toml:"height" default:"288"`
}

// Log configures the slog output.
type Log struct {
	Level  string `toml:"level" default:"info"`
	Format string `toml:"format" default:"console"`
}

// Config is the root configuration document.
type Config struct {
	Server  Server  `toml:"server"`
	Paths   Paths   `toml:"paths"`
	Engine  Engine  `toml:"engine"`
	Capture Capture `toml:"capture"`
	Log     Log     `toml:"log"`
}

// Load reads the TOML file at path on top of the defaults. A missing path
// yields the pure-default configuration rather than an error; an empty path
// skips file loading entirely.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	defaults.SetDefaults(cfg)

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	data := c.Paths.DataDir
	if c.Paths.GalleryDir == "" {
		c.Paths.GalleryDir = filepath.Join(data, "images")
	}
	if c.Paths.TemplateDBDir == "" {
		c.Paths.TemplateDBDir = filepath.Join(data, "db")
	}
	if c.Paths.StagingDir == "" {
		c.Paths.StagingDir = filepath.Join(data, "staging")
	}
	if c.Paths.ThresholdFile == "" {
		c.Paths.ThresholdFile = filepath.Join(data, "threshold.json")
	}
	if c.Paths.JournalFile == "" {
		c.Paths.JournalFile = filepath.Join(data, "journal.db")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(data, "logs")
	}
}

// Validate reports configuration that cannot possibly work.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "embedded":
	case "cli":
		if c.Engine.Binary == "" {
			return errors.New("config: engine.mode \"cli\" requires engine.binary")
		}
	default:
		return fmt.Errorf("config: unknown engine.mode %q", c.Engine.Mode)
	}
	if c.Engine.DPI <= 0 {
		return fmt.Errorf("config: engine.dpi must be positive, got %d", c.Engine.DPI)
	}
	if c.Engine.TargetFAR <= 0 || c.Engine.TargetFAR >= 1 {
		return fmt.Errorf("config: engine.target_far must be in (0,1), got %g", c.Engine.TargetFAR)
	}
	if c.Engine.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: engine.timeout_seconds must be positive, got %d", c.Engine.TimeoutSeconds)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("config: capture geometry must be positive, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	return nil
}

// EnsureDirectories creates the data tree the service writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.GalleryDir,
		c.Paths.TemplateDBDir,
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
