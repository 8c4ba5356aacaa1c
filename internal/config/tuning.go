package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical startup defaults file.
// This is the single source of truth for all default configuration values.
const DefaultConfigPath = "config/tagpose.defaults.json"

// TuningConfig represents the root startup configuration. The detector and
// flag fields match the /api/tags/params endpoint so the same JSON shape
// covers both startup configuration and runtime updates; partial files are
// valid and omitted fields keep their defaults.
type TuningConfig struct {
	// Registry params
	Family         *string   `json:"family,omitempty"`
	DefaultTagSize *float64  `json:"default_tag_size,omitempty"`
	TagIDs         []int     `json:"tag_ids,omitempty"`
	TagFrames      []string  `json:"tag_frames,omitempty"`
	TagSizes       []float64 `json:"tag_sizes,omitempty"`

	// Initial live flags
	MaxHamming *int  `json:"max_hamming,omitempty"`
	Profile    *bool `json:"profile,omitempty"`
	ZUp        *bool `json:"z_up,omitempty"`
	Enabled    *bool `json:"enabled,omitempty"`

	// Initial detector knobs
	Threads     *int     `json:"threads,omitempty"`
	Decimate    *float64 `json:"decimate,omitempty"`
	Blur        *float64 `json:"blur,omitempty"`
	RefineEdges *bool    `json:"refine_edges,omitempty"`
	Sharpening  *float64 `json:"sharpening,omitempty"`
	Debug       *bool    `json:"debug,omitempty"`

	// Service endpoints
	ListenAddr   *string `json:"listen_addr,omitempty"`  // UDP frame listener
	MonitorAddr  *string `json:"monitor_addr,omitempty"` // HTTP monitor
	EventLogPath *string `json:"event_log_path,omitempty"`

	// Debug output
	OverlayDir       *string `json:"overlay_dir,omitempty"`
	OverlayMaxFrames *int    `json:"overlay_max_frames,omitempty"`
	PlotDir          *string `json:"plot_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a config file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	// Validate DefaultTagSize if set
	if c.DefaultTagSize != nil {
		if *c.DefaultTagSize <= 0 {
			return fmt.Errorf("default_tag_size must be positive, got %f", *c.DefaultTagSize)
		}
	}

	// Validate per-tag sizes if set
	for i, size := range c.TagSizes {
		if size <= 0 {
			return fmt.Errorf("tag_sizes[%d] must be positive, got %f", i, size)
		}
	}

	// Validate MaxHamming if set
	if c.MaxHamming != nil {
		if *c.MaxHamming < 0 {
			return fmt.Errorf("max_hamming must be non-negative, got %d", *c.MaxHamming)
		}
	}

	// Validate Threads if set
	if c.Threads != nil {
		if *c.Threads < 1 {
			return fmt.Errorf("threads must be at least 1, got %d", *c.Threads)
		}
	}

	// Validate Decimate if set
	if c.Decimate != nil {
		if *c.Decimate < 1 {
			return fmt.Errorf("decimate must be at least 1, got %f", *c.Decimate)
		}
	}

	// Validate OverlayMaxFrames if set
	if c.OverlayMaxFrames != nil {
		if *c.OverlayMaxFrames < 0 {
			return fmt.Errorf("overlay_max_frames must be non-negative, got %d", *c.OverlayMaxFrames)
		}
	}

	return nil
}

// GetFamily returns the family value or the default.
func (c *TuningConfig) GetFamily() string {
	if c.Family == nil || *c.Family == "" {
		return "36h11" // default
	}
	return *c.Family
}

// GetDefaultTagSize returns the default_tag_size value or the default.
func (c *TuningConfig) GetDefaultTagSize() float64 {
	if c.DefaultTagSize == nil {
		return 1.0 // default
	}
	return *c.DefaultTagSize
}

// GetMaxHamming returns the max_hamming value or the default.
func (c *TuningConfig) GetMaxHamming() int {
	if c.MaxHamming == nil {
		return 0 // default: exact decodes only
	}
	return *c.MaxHamming
}

// GetProfile returns the profile value or the default.
func (c *TuningConfig) GetProfile() bool {
	if c.Profile == nil {
		return false
	}
	return *c.Profile
}

// GetZUp returns the z_up value or the default.
func (c *TuningConfig) GetZUp() bool {
	if c.ZUp == nil {
		return false
	}
	return *c.ZUp
}

// GetEnabled returns the enabled value or the default.
func (c *TuningConfig) GetEnabled() bool {
	if c.Enabled == nil {
		return true // default: detection on at startup
	}
	return *c.Enabled
}

// GetThreads returns the threads value or the default.
func (c *TuningConfig) GetThreads() int {
	if c.Threads == nil {
		return 1
	}
	return *c.Threads
}

// GetDecimate returns the decimate value or the default.
func (c *TuningConfig) GetDecimate() float64 {
	if c.Decimate == nil {
		return 2.0
	}
	return *c.Decimate
}

// GetBlur returns the blur value or the default.
func (c *TuningConfig) GetBlur() float64 {
	if c.Blur == nil {
		return 0
	}
	return *c.Blur
}

// GetRefineEdges returns the refine_edges value or the default.
func (c *TuningConfig) GetRefineEdges() bool {
	if c.RefineEdges == nil {
		return true
	}
	return *c.RefineEdges
}

// GetSharpening returns the sharpening value or the default.
func (c *TuningConfig) GetSharpening() float64 {
	if c.Sharpening == nil {
		return 0.25
	}
	return *c.Sharpening
}

// GetDebug returns the debug value or the default.
func (c *TuningConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetListenAddr returns the listen_addr value or the default.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":7720" // default
	}
	return *c.ListenAddr
}

// GetMonitorAddr returns the monitor_addr value or the default.
func (c *TuningConfig) GetMonitorAddr() string {
	if c.MonitorAddr == nil || *c.MonitorAddr == "" {
		return ":8080" // default
	}
	return *c.MonitorAddr
}

// GetEventLogPath returns the event_log_path value or the default.
func (c *TuningConfig) GetEventLogPath() string {
	if c.EventLogPath == nil {
		return "" // default: event logging disabled
	}
	return *c.EventLogPath
}

// GetOverlayDir returns the overlay_dir value or the default.
func (c *TuningConfig) GetOverlayDir() string {
	if c.OverlayDir == nil {
		return "" // default: overlay disabled
	}
	return *c.OverlayDir
}

// GetOverlayMaxFrames returns the overlay_max_frames value or the default.
func (c *TuningConfig) GetOverlayMaxFrames() int {
	if c.OverlayMaxFrames == nil {
		return 200
	}
	return *c.OverlayMaxFrames
}

// GetPlotDir returns the plot_dir value or the default.
func (c *TuningConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return "" // default: plotting disabled
	}
	return *c.PlotDir
}
