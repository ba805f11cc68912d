// Package config provides the denoiser's parameter bundle, loaded from
// YAML parameter files with sensible defaults, plus the validation that
// rejects invalid geometry before any window processing begins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option of the denoising pipeline.
type Config struct {
	// PatchSize is the spatial tile edge length in pixels.
	PatchSize int `yaml:"patch_size"`

	// PatchOverlap is the stride of the patch origin grid.
	PatchOverlap int `yaml:"patch_overlap"`

	// TrajectoryLength is the temporal window length in frames (odd).
	TrajectoryLength int `yaml:"trajectory_length"`

	// OptimizePGURE enables the risk-driven threshold search.
	OptimizePGURE bool `yaml:"optimize_pgure"`

	// Lambda is the fixed threshold used when optimization is disabled.
	Lambda float64 `yaml:"lambda"`

	// NoiseAlpha, NoiseMu and NoiseSigma fix the noise model parameters
	// when non-negative; -1 requests automatic estimation.
	NoiseAlpha float64 `yaml:"noise_alpha"`
	NoiseMu    float64 `yaml:"noise_mu"`
	NoiseSigma float64 `yaml:"noise_sigma"`

	// NoiseMethod selects the estimator's regression variant.
	NoiseMethod int `yaml:"noise_method"`

	// MotionNeighbourhood is the block matcher's search half-width.
	MotionNeighbourhood int `yaml:"motion_neighbourhood"`

	// MedianSize is the edge length of the motion prefilter window (odd).
	MedianSize int `yaml:"median_size"`

	// HotPixelThreshold scales the outlier cut of the hot-pixel repair;
	// zero disables the repair pass.
	HotPixelThreshold float64 `yaml:"hot_pixel"`

	// Tolerance is the optimizer's relative stopping tolerance.
	Tolerance float64 `yaml:"tolerance"`

	// MaxIter bounds the optimizer's risk evaluations per window.
	MaxIter int `yaml:"max_iter"`

	// ExponentialWeighting selects the weighted shrinkage rule.
	ExponentialWeighting bool `yaml:"exponential_weighting"`

	// RandomSeed seeds the synthetic noise generator; zero means unset.
	RandomSeed uint64 `yaml:"random_seed"`

	// NumCores caps the worker pool width; 1 disables parallelism.
	NumCores int `yaml:"num_cores"`
}

// Default returns the configuration with the reference parameter set.
func Default() *Config {
	return &Config{
		PatchSize:            4,
		PatchOverlap:         1,
		TrajectoryLength:     15,
		OptimizePGURE:        true,
		Lambda:               0.5,
		NoiseAlpha:           -1,
		NoiseMu:              -1,
		NoiseSigma:           -1,
		NoiseMethod:          4,
		MotionNeighbourhood:  7,
		MedianSize:           5,
		HotPixelThreshold:    10,
		Tolerance:            1e-7,
		MaxIter:              1000,
		ExponentialWeighting: false,
		NumCores:             runtime.NumCPU(),
	}
}

// Load reads a YAML parameter file over the defaults.
// If the file doesn't exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultFile writes a default configuration file at the given path.
func CreateDefaultFile(path string) error {
	return Save(Default(), path)
}

// Validate rejects parameter combinations that would break the patch
// coverage guarantees or the optimizer contracts for square frames of
// the given edge length.
func (c *Config) Validate(frameSize int) error {
	if c.PatchSize <= 0 || c.PatchSize > frameSize {
		return fmt.Errorf("config: patch_size %d invalid for %d pixel frames", c.PatchSize, frameSize)
	}
	if c.PatchOverlap <= 0 || c.PatchOverlap > c.PatchSize {
		return fmt.Errorf("config: patch_overlap %d must be in [1, patch_size=%d]", c.PatchOverlap, c.PatchSize)
	}
	if c.TrajectoryLength < 3 || c.TrajectoryLength%2 == 0 {
		return fmt.Errorf("config: trajectory_length %d must be odd and at least 3", c.TrajectoryLength)
	}
	if c.TrajectoryLength >= c.PatchSize*c.PatchSize {
		return fmt.Errorf("config: trajectory_length %d must be below patch pixel count %d",
			c.TrajectoryLength, c.PatchSize*c.PatchSize)
	}
	if c.NoiseMethod < 1 || c.NoiseMethod > 4 {
		return fmt.Errorf("config: noise_method must be 1-4, got %d", c.NoiseMethod)
	}
	if c.MotionNeighbourhood <= 0 {
		return fmt.Errorf("config: motion_neighbourhood must be positive, got %d", c.MotionNeighbourhood)
	}
	if c.MedianSize < 1 || c.MedianSize%2 == 0 {
		return fmt.Errorf("config: median_size %d must be odd", c.MedianSize)
	}
	if c.HotPixelThreshold < 0 {
		return fmt.Errorf("config: hot_pixel threshold must be non-negative, got %g", c.HotPixelThreshold)
	}
	if !c.OptimizePGURE && c.Lambda < 0 {
		return fmt.Errorf("config: fixed lambda must be non-negative, got %g", c.Lambda)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("config: tolerance must be positive, got %g", c.Tolerance)
	}
	if c.MaxIter <= 0 {
		return fmt.Errorf("config: max_iter must be positive, got %d", c.MaxIter)
	}
	if c.NumCores < 1 {
		return fmt.Errorf("config: num_cores must be at least 1, got %d", c.NumCores)
	}
	return nil
}

// ClampTrajectory shortens the temporal window so the patch matrices
// stay tall (more pixels than frames) and the window fits the sequence,
// preserving oddness. It returns the effective length.
func (c *Config) ClampTrajectory(numFrames int) int {
	t := c.TrajectoryLength
	if limit := c.PatchSize*c.PatchSize - 1; t > limit {
		t = limit
	}
	if t > numFrames {
		t = numFrames
	}
	if t%2 == 0 {
		t--
	}
	if t < 1 {
		t = 1
	}
	c.TrajectoryLength = t
	return t
}
