// Package config holds the run configuration of the germination pipeline.
//
// Values are layered: Default, then an optional JSON file, then the process environment
// (including a .env file loaded with godotenv), then command line flags applied by the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/seedvision/annotation"
	"github.com/nvr-ai/seedvision/images"
	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/inference/providers"
	"github.com/nvr-ai/seedvision/table"
	"github.com/nvr-ai/seedvision/viability"
	"github.com/nvr-ai/seedvision/visualize"
)

// Environment variables read by ApplyEnv.
const (
	EnvModelPath      = "SEED_MODEL_PATH"
	EnvLibraryPath    = "SEED_ORT_LIB"
	EnvImageDir       = "SEED_IMAGE_DIR"
	EnvResultsDir     = "SEED_RESULTS_DIR"
	EnvXMLDir         = "SEED_XML_DIR"
	EnvScoreThreshold = "SEED_SCORE_THRESHOLD"
	EnvFlipY          = "SEED_FLIP_Y"
	EnvScale          = "SEED_SCALE"
	EnvProvider       = "SEED_PROVIDER"
)

// Config holds the application configuration
type Config struct {
	Model     inference.Config `json:"model"`
	Input     InputConfig      `json:"input"`
	Detection DetectionConfig  `json:"detection"`
	Viability ViabilityConfig  `json:"viability"`
	Output    OutputConfig     `json:"output"`
}

// InputConfig locates the images and the class names.
type InputConfig struct {
	ImageDir string `json:"image_dir"`
	// LabelMapPath is an optional label map in protobuf text format.
	LabelMapPath string `json:"label_map_path"`
}

// DetectionConfig controls how raw detections are tabulated.
type DetectionConfig struct {
	ScoreThreshold float32 `json:"score_threshold"`
	MaskThreshold  float32 `json:"mask_threshold"`
	// FlipY measures y from the bottom edge, as the figure axes expect.
	FlipY bool `json:"flip_y"`
}

// ViabilityConfig names the two counted classes.
type ViabilityConfig struct {
	GerminatedClass   int `json:"germinated_class"`
	UngerminatedClass int `json:"ungerminated_class"`
}

// OutputConfig selects the artifacts written for every image.
type OutputConfig struct {
	ResultsDir string `json:"results_dir"`
	XMLDir     string `json:"xml_dir"`

	XML          bool    `json:"xml"`
	XMLThreshold float32 `json:"xml_threshold"`
	// XMLRounding is "truncate" or "nearest".
	XMLRounding string `json:"xml_rounding"`
	XMLSize     bool   `json:"xml_size"`

	Figure  bool     `json:"figure"`
	Raster  bool     `json:"raster"`
	Preview bool     `json:"preview"`
	Report  bool     `json:"report"`
	Scale   float64  `json:"scale"`
	Palette []string `json:"palette"`

	RasterFormat  string `json:"raster_format"`
	RasterQuality int    `json:"raster_quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Model: inference.DefaultConfig(),
		Input: InputConfig{
			ImageDir: ".",
		},
		Detection: DetectionConfig{
			ScoreThreshold: table.DefaultThreshold,
			MaskThreshold:  inference.DefaultMaskThreshold,
			FlipY:          true,
		},
		Viability: ViabilityConfig{
			GerminatedClass:   viability.DefaultGerminatedClass,
			UngerminatedClass: viability.DefaultUngerminatedClass,
		},
		Output: OutputConfig{
			ResultsDir:    visualize.DefaultResultsDir,
			XMLDir:        ".",
			XML:           true,
			XMLThreshold:  table.DefaultThreshold,
			XMLRounding:   "truncate",
			Figure:        true,
			Report:        true,
			Scale:         1,
			Palette:       append([]string{}, visualize.DefaultPalette...),
			RasterFormat:  string(images.FormatJPEG),
			RasterQuality: 90,
		},
	}
}

// Load builds a configuration from the defaults, the JSON file at path (when not empty) and
// the environment. envFiles are loaded with godotenv first; with none given an optional
// ".env" is tried. Named env files must exist. Variables already set in the process win.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. Fields absent from the file keep their
// default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from the SEED_* environment variables. Unparsable values are
// logged and ignored.
func (c *Config) ApplyEnv() {
	c.Model.ModelPath = getEnv(EnvModelPath, c.Model.ModelPath)
	c.Model.LibraryPath = getEnv(EnvLibraryPath, c.Model.LibraryPath)
	c.Input.ImageDir = getEnv(EnvImageDir, c.Input.ImageDir)
	c.Output.ResultsDir = getEnv(EnvResultsDir, c.Output.ResultsDir)
	c.Output.XMLDir = getEnv(EnvXMLDir, c.Output.XMLDir)
	c.Detection.ScoreThreshold = float32(getEnvAsFloat(EnvScoreThreshold, float64(c.Detection.ScoreThreshold)))
	c.Detection.FlipY = getEnvAsBool(EnvFlipY, c.Detection.FlipY)
	c.Output.Scale = getEnvAsFloat(EnvScale, c.Output.Scale)

	if value := os.Getenv(EnvProvider); value != "" {
		backend, err := providers.ParseBackend(value)
		if err != nil {
			log.Printf("⚠️ ignoring %s: %v", EnvProvider, err)
		} else {
			c.Model.Provider.Backend = backend
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Model.ModelPath == "" {
		return fmt.Errorf("model.model_path is required")
	}

	if c.Input.ImageDir == "" {
		return fmt.Errorf("input.image_dir is required")
	}

	if c.Detection.ScoreThreshold < 0 || c.Detection.ScoreThreshold >= 1 {
		return fmt.Errorf("detection.score_threshold must be in [0, 1)")
	}

	if c.Detection.MaskThreshold < 0 || c.Detection.MaskThreshold > 1 {
		return fmt.Errorf("detection.mask_threshold must be between 0 and 1")
	}

	if c.Viability.GerminatedClass <= 0 || c.Viability.UngerminatedClass <= 0 {
		return fmt.Errorf("viability classes must be positive")
	}

	if c.Viability.GerminatedClass == c.Viability.UngerminatedClass {
		return fmt.Errorf("viability.germinated_class and viability.ungerminated_class must differ")
	}

	if c.Output.XMLThreshold < 0 || c.Output.XMLThreshold >= 1 {
		return fmt.Errorf("output.xml_threshold must be in [0, 1)")
	}

	if _, err := c.Rounding(); err != nil {
		return err
	}

	if c.Output.Scale <= 0 {
		return fmt.Errorf("output.scale must be positive")
	}

	if err := visualize.ValidatePalette(c.Output.Palette); err != nil {
		return fmt.Errorf("output.palette: %w", err)
	}

	if _, err := images.ParseFormat(c.Output.RasterFormat); err != nil {
		return fmt.Errorf("output.raster_format: %w", err)
	}

	if c.Output.RasterQuality < 1 || c.Output.RasterQuality > 100 {
		return fmt.Errorf("output.raster_quality must be between 1 and 100")
	}

	return c.Model.Provider.Validate()
}

// Rounding maps output.xml_rounding to an annotation rounding mode.
func (c *Config) Rounding() (annotation.Rounding, error) {
	switch strings.ToLower(c.Output.XMLRounding) {
	case "", "truncate":
		return annotation.Truncate, nil
	case "nearest":
		return annotation.Nearest, nil
	default:
		return annotation.Truncate, fmt.Errorf("output.xml_rounding must be truncate or nearest, got %q", c.Output.XMLRounding)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Printf("⚠️ ignoring %s=%q: not a number", key, value)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("⚠️ ignoring %s=%q: not a boolean", key, value)
	}
	return defaultValue
}
