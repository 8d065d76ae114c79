// Package config provides configuration loading and management for photonstack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"photonstack/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Acquisition parameters of the multiscaler run
	Acquisition struct {
		// Binwidth is the duration of one multiscaler bin in seconds
		Binwidth float64 `yaml:"binwidth"`

		// Reprate is the laser repetition rate in Hz (FLIM mode)
		Reprate float64 `yaml:"reprate"`

		// XPixels, YPixels and ZPixels are the requested image dimensions
		XPixels int `yaml:"xPixels"`
		YPixels int `yaml:"yPixels"`
		ZPixels int `yaml:"zPixels"`

		// NumOfLines is the expected number of scan lines per frame
		NumOfLines int `yaml:"numOfLines"`

		// NumOfFrames is the expected number of frames in the recording
		NumOfFrames int `yaml:"numOfFrames"`

		// Bidir marks bidirectional scanning, where alternate lines are
		// traversed in reverse
		Bidir bool `yaml:"bidir"`

		// FillFrac is the percentage of each line period spent inside
		// the imaged field of view
		FillFrac float64 `yaml:"fillFrac"`

		// NumOfChannels is the number of recorded detection channels
		NumOfChannels int `yaml:"numOfChannels"`

		// UseSweeps interprets the sweep counter as the line clock
		UseSweeps bool `yaml:"useSweeps"`

		// FLIM enables time-correlated (per-laser-pulse) binning
		FLIM bool `yaml:"flim"`

		// Censor enables the censor-correction diagnostic pass
		Censor bool `yaml:"censor"`

		// KeepUnidir folds photons from back-scan lines into the previous
		// forward line instead of discarding them (unidirectional only)
		KeepUnidir bool `yaml:"keepUnidir"`

		// PhaseDelay is the inter-line phase jitter in radians applied
		// during bidirectional correction
		PhaseDelay float64 `yaml:"phaseDelay"`
	} `yaml:"acquisition"`

	// Output parameters
	Output struct {
		// Memory keeps the running sum and ordered stack per channel in memory
		Memory bool `yaml:"memory"`

		// Stack persists each volume's histogram incrementally to disk
		Stack bool `yaml:"stack"`

		// Summed persists only the final running sum per channel
		Summed bool `yaml:"summed"`

		// Path is the output file written for the stack and summed kinds
		Path string `yaml:"path"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Multiscaler defaults matching a typical two-photon setup
	cfg.Acquisition.Binwidth = 800e-12
	cfg.Acquisition.Reprate = 80e6
	cfg.Acquisition.XPixels = 512
	cfg.Acquisition.YPixels = 512
	cfg.Acquisition.ZPixels = 1
	cfg.Acquisition.NumOfLines = 512
	cfg.Acquisition.NumOfFrames = 1
	cfg.Acquisition.Bidir = true
	cfg.Acquisition.FillFrac = 80.0
	cfg.Acquisition.NumOfChannels = 1

	// Set default output parameters
	cfg.Output.Memory = true
	cfg.Output.Path = "photonstack_output.fits"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// AcquisitionParams converts the acquisition section into a validated
// scalar set, rejecting out-of-range values before the pipeline starts.
func (c *Config) AcquisitionParams() (models.Acquisition, error) {
	return models.NewAcquisition(models.Acquisition{
		Binwidth:      c.Acquisition.Binwidth,
		Reprate:       c.Acquisition.Reprate,
		XPixels:       c.Acquisition.XPixels,
		YPixels:       c.Acquisition.YPixels,
		ZPixels:       c.Acquisition.ZPixels,
		NumOfLines:    c.Acquisition.NumOfLines,
		NumOfFrames:   c.Acquisition.NumOfFrames,
		Bidir:         c.Acquisition.Bidir,
		FillFrac:      c.Acquisition.FillFrac,
		NumOfChannels: c.Acquisition.NumOfChannels,
		UseSweeps:     c.Acquisition.UseSweeps,
		Censor:        c.Acquisition.Censor,
		FLIM:          c.Acquisition.FLIM,
		KeepUnidir:    c.Acquisition.KeepUnidir,
	})
}
