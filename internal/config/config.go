// Package config loads the problemwatch configuration from TOML or YAML
// files, applying defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface consumed by the engine, the
// analyzer, the export pipeline, and the file-report source.
type Config struct {
	Engine EngineConfig `toml:"engine" yaml:"engine"`
	Export ExportConfig `toml:"export" yaml:"export"`
	Scan   ScanConfig   `toml:"scan" yaml:"scan"`
	Source SourceConfig `toml:"source" yaml:"source"`
	Log    LogConfig    `toml:"log" yaml:"log"`
}

// EngineConfig tunes the change processor.
type EngineConfig struct {
	DebounceMS         int `toml:"debounce_ms" yaml:"debounce_ms"`
	MaxProblemsPerFile int `toml:"max_problems_per_file" yaml:"max_problems_per_file"`
}

// Debounce returns the debounce window as a duration.
func (c EngineConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ExportConfig tunes the export pipeline.
type ExportConfig struct {
	Path            string `toml:"path" yaml:"path"`
	IntervalSeconds int    `toml:"interval_seconds" yaml:"interval_seconds"`
}

// Interval returns the export interval as a duration.
func (c ExportConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ScanConfig tunes the workspace analyzer's background scan.
type ScanConfig struct {
	Patterns     []string `toml:"patterns" yaml:"patterns"`
	Exclude      string   `toml:"exclude" yaml:"exclude"`
	BatchSize    int      `toml:"batch_size" yaml:"batch_size"`
	FileDelayMS  int      `toml:"file_delay_ms" yaml:"file_delay_ms"`
	BatchPauseMS int      `toml:"batch_pause_ms" yaml:"batch_pause_ms"`
	SettleMS     int      `toml:"settle_ms" yaml:"settle_ms"`
}

// FileDelay returns the per-file settle pause.
func (c ScanConfig) FileDelay() time.Duration {
	return time.Duration(c.FileDelayMS) * time.Millisecond
}

// BatchPause returns the pause between scan batches.
func (c ScanConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMS) * time.Millisecond
}

// Settle returns the post-scan settle delay.
func (c ScanConfig) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

// SourceConfig describes where the file-report source finds its input.
type SourceConfig struct {
	Root       string            `toml:"root" yaml:"root"`
	ReportGlob string            `toml:"report_glob" yaml:"report_glob"`
	Workspaces []WorkspaceConfig `toml:"workspace" yaml:"workspace"`
}

// WorkspaceConfig names one workspace folder.
type WorkspaceConfig struct {
	Name string `toml:"name" yaml:"name"`
	Path string `toml:"path" yaml:"path"`
}

// LogConfig tunes logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			DebounceMS:         250,
			MaxProblemsPerFile: 1000,
		},
		Export: ExportConfig{
			Path:            "problems.json",
			IntervalSeconds: 30,
		},
		Scan: ScanConfig{
			Patterns: []string{
				"**/*.go", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
				"**/*.py", "**/*.rs", "**/*.java", "**/*.c", "**/*.cpp",
			},
			Exclude:      "**/{node_modules,vendor,dist,build,out,target,.git}/**",
			BatchSize:    5,
			FileDelayMS:  10,
			BatchPauseMS: 200,
			SettleMS:     1000,
		},
		Source: SourceConfig{
			Root:       ".",
			ReportGlob: "**/*.diag.json",
			Workspaces: []WorkspaceConfig{{Name: "root", Path: "."}},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from path. An empty path or a missing file yields
// the defaults; a present-but-malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Default(), &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Default(), &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return Default(), fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores defaults for values the file zeroed or omitted.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Engine.DebounceMS <= 0 {
		c.Engine.DebounceMS = def.Engine.DebounceMS
	}
	if c.Engine.MaxProblemsPerFile < 0 {
		c.Engine.MaxProblemsPerFile = def.Engine.MaxProblemsPerFile
	}
	if c.Export.Path == "" {
		c.Export.Path = def.Export.Path
	}
	if c.Export.IntervalSeconds <= 0 {
		c.Export.IntervalSeconds = def.Export.IntervalSeconds
	}
	if len(c.Scan.Patterns) == 0 {
		c.Scan.Patterns = def.Scan.Patterns
	}
	if c.Scan.Exclude == "" {
		c.Scan.Exclude = def.Scan.Exclude
	}
	if c.Scan.BatchSize <= 0 {
		c.Scan.BatchSize = def.Scan.BatchSize
	}
	if c.Scan.FileDelayMS < 0 {
		c.Scan.FileDelayMS = def.Scan.FileDelayMS
	}
	if c.Scan.BatchPauseMS < 0 {
		c.Scan.BatchPauseMS = def.Scan.BatchPauseMS
	}
	if c.Scan.SettleMS < 0 {
		c.Scan.SettleMS = def.Scan.SettleMS
	}
	if c.Source.Root == "" {
		c.Source.Root = def.Source.Root
	}
	if c.Source.ReportGlob == "" {
		c.Source.ReportGlob = def.Source.ReportGlob
	}
	if len(c.Source.Workspaces) == 0 {
		c.Source.Workspaces = def.Source.Workspaces
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// ParseError reports a malformed configuration file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
