package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultValidates verifies the default parameter set passes its
// own validation for a typical frame size.
func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(128); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

// TestLoadMissingFileReturnsDefaults verifies a nonexistent path yields
// the default configuration without error.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.PatchSize != 4 || cfg.TrajectoryLength != 15 {
		t.Errorf("expected defaults, got patch_size=%d trajectory_length=%d",
			cfg.PatchSize, cfg.TrajectoryLength)
	}
}

// TestLoadOverridesDefaults verifies YAML keys override defaults while
// unspecified keys keep their default values.
func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	yamlData := "patch_size: 8\nlambda: 0.25\noptimize_pgure: false\n"
	if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.PatchSize != 8 {
		t.Errorf("expected patch_size 8, got %d", cfg.PatchSize)
	}
	if cfg.Lambda != 0.25 {
		t.Errorf("expected lambda 0.25, got %g", cfg.Lambda)
	}
	if cfg.OptimizePGURE {
		t.Error("expected optimize_pgure to be false")
	}
	if cfg.MotionNeighbourhood != 7 {
		t.Errorf("unspecified key should keep default, got %d", cfg.MotionNeighbourhood)
	}
}

// TestSaveLoadRoundTrip verifies a saved configuration loads back with
// the same values.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "params.yaml")
	cfg := Default()
	cfg.PatchSize = 6
	cfg.NoiseSigma = 0.1
	cfg.RandomSeed = 42

	if err := Save(cfg, path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if loaded.PatchSize != 6 || loaded.NoiseSigma != 0.1 || loaded.RandomSeed != 42 {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

// TestValidateRejectsBadGeometry exercises the rejection paths.
func TestValidateRejectsBadGeometry(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero patch size", func(c *Config) { c.PatchSize = 0 }},
		{"patch larger than frame", func(c *Config) { c.PatchSize = 256 }},
		{"zero overlap", func(c *Config) { c.PatchOverlap = 0 }},
		{"overlap beyond patch", func(c *Config) { c.PatchOverlap = 5 }},
		{"even trajectory", func(c *Config) { c.TrajectoryLength = 14 }},
		{"trajectory beyond patch area", func(c *Config) { c.TrajectoryLength = 17 }},
		{"bad noise method", func(c *Config) { c.NoiseMethod = 5 }},
		{"even median", func(c *Config) { c.MedianSize = 4 }},
		{"negative hot pixel", func(c *Config) { c.HotPixelThreshold = -1 }},
		{"negative fixed lambda", func(c *Config) { c.OptimizePGURE = false; c.Lambda = -0.5 }},
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"zero max iter", func(c *Config) { c.MaxIter = 0 }},
		{"zero cores", func(c *Config) { c.NumCores = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(128); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// TestClampTrajectory verifies the window length is clamped below the
// patch pixel count and the sequence length while staying odd.
func TestClampTrajectory(t *testing.T) {
	cases := []struct {
		name      string
		patchSize int
		length    int
		frames    int
		want      int
	}{
		{"default fits", 4, 15, 100, 15},
		{"clamped by patch area", 3, 15, 100, 7},
		{"clamped by sequence", 4, 15, 10, 9},
		{"short sequence", 4, 15, 3, 3},
		{"single frame", 4, 15, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.PatchSize = tc.patchSize
			cfg.TrajectoryLength = tc.length
			got := cfg.ClampTrajectory(tc.frames)
			if got != tc.want {
				t.Errorf("expected clamp to %d, got %d", tc.want, got)
			}
			if cfg.TrajectoryLength != got {
				t.Errorf("config not updated: %d vs %d", cfg.TrajectoryLength, got)
			}
		})
	}
}
