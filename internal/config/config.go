package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/microstack/config.json"

// Config holds user-editable settings for the engine and its surfaces.
type Config struct {
	Settings Settings `json:"settings"`
	Logging  Logging  `json:"logging"`
	Server   Server   `json:"server"`
	Paths    Paths    `json:"paths"`
}

// Settings are the numeric tuning knobs of the imaging core. There are no
// hidden process-wide defaults; every pipeline call takes an explicit
// snapshot of these values.
type Settings struct {
	AlignWidth         int     `json:"align_width"`         // downsample width for alignment
	SearchWindow       int     `json:"search_window"`       // exhaustive search radius, px
	SharpnessThreshold float64 `json:"sharpness_threshold"` // minimum in-focus sharpness
	CropRatio          float64 `json:"crop_ratio"`          // centered crop fraction
	DriftDeadband      float64 `json:"drift_deadband"`      // motion below this is noise, px
	FingerprintSize    int     `json:"fingerprint_size"`    // fingerprint thumbnail side
	MergeSensitivity   float64 `json:"merge_sensitivity"`   // sharpness margin a new layer must win by
}

// Logging controls logging verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Server configures the HTTP/WebSocket capture surface.
type Server struct {
	Addr string `json:"addr"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string   `json:"default_output"`
	DatabasePath  string   `json:"database_path"`
	WatchDirs     []string `json:"watch_dirs"`
}

// DefaultSettings returns the documented tuning defaults.
func DefaultSettings() Settings {
	return Settings{
		AlignWidth:         128,
		SearchWindow:       40,
		SharpnessThreshold: 20,
		CropRatio:          0.6,
		DriftDeadband:      0.8,
		FingerprintSize:    16,
		MergeSensitivity:   5,
	}
}

// Validate checks that every knob is positive. MergeSensitivity may be zero:
// a zero margin means any strictly sharper layer wins.
func (s Settings) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"align_width", s.AlignWidth > 0},
		{"search_window", s.SearchWindow > 0},
		{"sharpness_threshold", s.SharpnessThreshold > 0},
		{"crop_ratio", s.CropRatio > 0},
		{"drift_deadband", s.DriftDeadband > 0},
		{"fingerprint_size", s.FingerprintSize > 0},
		{"merge_sensitivity", s.MergeSensitivity >= 0},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("setting %s must be positive", c.name)
		}
	}
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
// The path may be overridden with the MICROSTACK_CONFIG environment
// variable.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("MICROSTACK_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o644)
}

// DefaultPath returns the config file location honoring the environment
// override.
func DefaultPath() string {
	if p := os.Getenv("MICROSTACK_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

func Default() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Server: Server{
			Addr: ":8750",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "microstack.db"),
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
