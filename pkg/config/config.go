// Package config provides configuration loading and management for mipnerf.
// It handles loading configuration from YAML files and provides default values.
// A loaded Config is treated as immutable and passed explicitly to every
// constructor that needs it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	MLP    MLPConfig    `yaml:"mlp"`
	Render RenderConfig `yaml:"render"`
	Camera CameraConfig `yaml:"camera"`
	Output OutputConfig `yaml:"output"`
}

// ModelConfig controls the hierarchical sampling and compositing pipeline
type ModelConfig struct {
	// NumLevels is the number of coarse-to-fine sampling levels
	NumLevels int `yaml:"numLevels"`

	// NumSamples is the number of intervals per ray at every level
	NumSamples int `yaml:"numSamples"`

	// Spacing is the space in which initial samples are evenly spaced:
	// linear, reciprocal (disparity) or log
	Spacing string `yaml:"spacing"`

	// RayShape is cone or cylinder
	RayShape string `yaml:"rayShape"`

	// Randomized enables stratified jitter and density noise
	Randomized bool `yaml:"randomized"`

	// SingleJitter shares one jitter value across all samples of a ray
	SingleJitter bool `yaml:"singleJitter"`

	// ResamplePaddingInit and ResamplePaddingFinal bound the weight padding
	// used when resampling; the value is log-interpolated by training progress
	ResamplePaddingInit  float64 `yaml:"resamplePaddingInit"`
	ResamplePaddingFinal float64 `yaml:"resamplePaddingFinal"`

	// StopLevelGrad marks t-values of finer levels as constants. The render
	// core only evaluates forward passes, so the flag is carried for
	// compatibility with training configurations.
	StopLevelGrad bool `yaml:"stopLevelGrad"`

	// WhiteBackground composites the unoccupied remainder as white
	WhiteBackground bool `yaml:"whiteBackground"`

	// OpaqueBackground forces the last interval of every ray to be opaque
	OpaqueBackground bool `yaml:"opaqueBackground"`

	// DepthMode selects the per-interval distance used for the expected
	// distance: "mid" (interval midpoints) or "start" (near boundaries)
	DepthMode string `yaml:"depthMode"`

	// ComputeNormals requests density-gradient normals from the field
	ComputeNormals bool `yaml:"computeNormals"`
}

// MLPConfig describes the architecture of the field network
type MLPConfig struct {
	NetDepth         int `yaml:"netDepth"`
	NetWidth         int `yaml:"netWidth"`
	BottleneckWidth  int `yaml:"bottleneckWidth"`
	NetDepthViewdirs int `yaml:"netDepthViewdirs"`
	NetWidthViewdirs int `yaml:"netWidthViewdirs"`

	// SkipLayer concatenates the encoded input after every SkipLayer-th layer
	SkipLayer int `yaml:"skipLayer"`

	// MinDegPoint and MaxDegPoint bound the frequency bands of the position
	// encoding, DegView the bands of the view direction encoding
	MinDegPoint int `yaml:"minDegPoint"`
	MaxDegPoint int `yaml:"maxDegPoint"`
	DegView     int `yaml:"degView"`

	UseViewdirs bool `yaml:"useViewdirs"`

	// DensityActivation is softplus, relu or exp
	DensityActivation string  `yaml:"densityActivation"`
	DensityBias       float64 `yaml:"densityBias"`
	DensityNoise      float64 `yaml:"densityNoise"`

	RGBPremultiplier float64 `yaml:"rgbPremultiplier"`
	RGBBias          float64 `yaml:"rgbBias"`
	RGBPadding       float64 `yaml:"rgbPadding"`

	// DisableIntegration drops the covariances, giving plain positional encoding
	DisableIntegration bool `yaml:"disableIntegration"`

	// AnnealFraction is the fraction of training over which position
	// frequencies are phased in. Zero disables the window.
	AnnealFraction float64 `yaml:"annealFraction"`
}

// RenderConfig controls how full images are rendered
type RenderConfig struct {
	// ChunkSize is the number of rays evaluated together
	ChunkSize int `yaml:"chunkSize"`

	// NumWorkers is the number of parallel workers a chunk is sharded across
	NumWorkers int `yaml:"numWorkers"`

	// Seed is the root of every random key
	Seed uint64 `yaml:"seed"`

	// Near and Far are the ray bounds used for generated rays
	Near float64 `yaml:"near"`
	Far  float64 `yaml:"far"`

	// LogProgress logs chunk progress while rendering
	LogProgress bool `yaml:"logProgress"`
}

// CameraConfig describes the camera used for rendered paths
type CameraConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FOV is the horizontal field of view in degrees
	FOV float64 `yaml:"fov"`

	// NDC maps rays to normalised device coordinates (forward-facing scenes)
	NDC bool `yaml:"ndc"`

	// Path is orbit, spiral (around the poses of a transforms file) or views
	// (the poses of a transforms file as they are)
	Path           string  `yaml:"path"`
	PathFrames     int     `yaml:"pathFrames"`
	OrbitRadius    float64 `yaml:"orbitRadius"`
	OrbitElevation float64 `yaml:"orbitElevation"`

	// Downsample divides the resolution of ground truth images for evaluation
	Downsample int `yaml:"downsample"`
}

// OutputConfig controls what is written to disk
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	SaveDepth   bool   `yaml:"saveDepth"`
	SaveAcc     bool   `yaml:"saveAcc"`
	SaveNormals bool   `yaml:"saveNormals"`

	// Verbose enables informational logging. When off only warnings and
	// errors are logged unless the -v or -vv flags are given.
	Verbose bool `yaml:"verbose"`
}

// ResamplePadding returns the weight padding used by finer levels at
// training progress trainFrac in [0, 1].
func (m ModelConfig) ResamplePadding(trainFrac float64) float64 {
	return LogLerp(trainFrac, m.ResamplePaddingInit, m.ResamplePaddingFinal)
}

// LogLerp interpolates between v0 and v1 in log space. t is clamped to
// [0, 1]. When either end point is not positive it falls back to linear
// interpolation.
func LogLerp(t, v0, v1 float64) float64 {
	t = math.Min(math.Max(t, 0), 1)
	if v0 <= 0 || v1 <= 0 {
		return v0 + t*(v1-v0)
	}
	return math.Exp(math.Log(v0)*(1-t) + math.Log(v1)*t)
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.NumLevels = 2
	cfg.Model.NumSamples = 128
	cfg.Model.Spacing = "linear"
	cfg.Model.RayShape = "cone"
	cfg.Model.Randomized = false
	cfg.Model.SingleJitter = true
	cfg.Model.ResamplePaddingInit = 0.01
	cfg.Model.ResamplePaddingFinal = 0.01
	cfg.Model.StopLevelGrad = true
	cfg.Model.WhiteBackground = true
	cfg.Model.DepthMode = "mid"

	cfg.MLP.NetDepth = 8
	cfg.MLP.NetWidth = 256
	cfg.MLP.BottleneckWidth = 256
	cfg.MLP.NetDepthViewdirs = 1
	cfg.MLP.NetWidthViewdirs = 128
	cfg.MLP.SkipLayer = 4
	cfg.MLP.MinDegPoint = 0
	cfg.MLP.MaxDegPoint = 16
	cfg.MLP.DegView = 4
	cfg.MLP.UseViewdirs = true
	cfg.MLP.DensityActivation = "softplus"
	cfg.MLP.DensityBias = -1
	cfg.MLP.RGBPremultiplier = 1
	cfg.MLP.RGBPadding = 0.001

	cfg.Render.ChunkSize = 8192
	cfg.Render.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Render.Seed = 20200823
	cfg.Render.Near = 2
	cfg.Render.Far = 6
	cfg.Render.LogProgress = true

	cfg.Camera.Width = 400
	cfg.Camera.Height = 400
	cfg.Camera.FOV = 40
	cfg.Camera.Path = "orbit"
	cfg.Camera.PathFrames = 40
	cfg.Camera.OrbitRadius = 4
	cfg.Camera.OrbitElevation = 30
	cfg.Camera.Downsample = 1

	cfg.Output.Dir = "renders"
	cfg.Output.SaveDepth = true
	cfg.Output.SaveAcc = true
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the configuration for values the render core cannot use.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Model.NumLevels < 1 {
		fail("model.numLevels must be at least 1, got %d", c.Model.NumLevels)
	}
	if c.Model.NumSamples < 1 {
		fail("model.numSamples must be at least 1, got %d", c.Model.NumSamples)
	}
	switch c.Model.Spacing {
	case "linear", "reciprocal", "disparity", "log":
	default:
		fail("model.spacing %q is not one of linear, reciprocal, disparity, log", c.Model.Spacing)
	}
	switch c.Model.RayShape {
	case "cone", "cylinder":
	default:
		fail("model.rayShape %q is not one of cone, cylinder", c.Model.RayShape)
	}
	switch c.Model.DepthMode {
	case "mid", "start":
	default:
		fail("model.depthMode %q is not one of mid, start", c.Model.DepthMode)
	}
	if c.Model.ResamplePaddingInit < 0 || c.Model.ResamplePaddingFinal < 0 {
		fail("resample padding must be non-negative")
	}

	if c.MLP.NetDepth < 1 || c.MLP.NetWidth < 1 {
		fail("mlp.netDepth and mlp.netWidth must be positive")
	}
	if c.MLP.SkipLayer < 1 {
		fail("mlp.skipLayer must be positive, got %d", c.MLP.SkipLayer)
	}
	if c.MLP.MaxDegPoint <= c.MLP.MinDegPoint {
		fail("mlp.maxDegPoint %d must exceed mlp.minDegPoint %d", c.MLP.MaxDegPoint, c.MLP.MinDegPoint)
	}
	if c.MLP.DegView < 0 {
		fail("mlp.degView must be non-negative, got %d", c.MLP.DegView)
	}
	if c.MLP.UseViewdirs && c.MLP.BottleneckWidth < 1 {
		fail("mlp.bottleneckWidth must be positive when view directions are used")
	}
	if c.MLP.UseViewdirs && c.MLP.NetDepthViewdirs > 0 && c.MLP.NetWidthViewdirs < 1 {
		fail("mlp.netWidthViewdirs must be positive")
	}
	switch c.MLP.DensityActivation {
	case "softplus", "relu", "exp":
	default:
		fail("mlp.densityActivation %q is not one of softplus, relu, exp", c.MLP.DensityActivation)
	}

	if c.Render.ChunkSize < 1 {
		fail("render.chunkSize must be positive, got %d", c.Render.ChunkSize)
	}
	if c.Render.NumWorkers < 1 {
		fail("render.numWorkers must be positive, got %d", c.Render.NumWorkers)
	}
	if c.Render.Near >= c.Render.Far {
		fail("render.near %g must be below render.far %g", c.Render.Near, c.Render.Far)
	}

	if c.Camera.Width < 1 || c.Camera.Height < 1 {
		fail("camera resolution must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	switch c.Camera.Path {
	case "orbit", "spiral", "views":
	default:
		fail("camera.path %q is not one of orbit, spiral, views", c.Camera.Path)
	}
	if c.Camera.PathFrames < 1 {
		fail("camera.pathFrames must be positive, got %d", c.Camera.PathFrames)
	}
	if c.Camera.Downsample < 1 {
		fail("camera.downsample must be at least 1")
	}

	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
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

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
