// Package config provides configuration loading and management for
// trainableseg. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many workers to use for feature
		// computation and classification
		NumWorkers int `yaml:"numWorkers"`

		// MemoryBudgetMB caps the estimated working memory of a
		// classification run; 0 disables the check
		MemoryBudgetMB int64 `yaml:"memoryBudgetMB"`
	} `yaml:"processing"`

	// Feature computation parameters
	Features struct {
		// Enabled lists the enabled filter base names
		Enabled []string `yaml:"enabled"`

		// SigmaMin is the smallest scale of the filter ladder
		SigmaMin float64 `yaml:"sigmaMin"`

		// SigmaMax is the largest scale of the filter ladder
		SigmaMax float64 `yaml:"sigmaMax"`
	} `yaml:"features"`

	// Training parameters
	Training struct {
		// Classifier selects the learning algorithm: "centroid" or "knn"
		Classifier string `yaml:"classifier"`

		// Neighbors is the k parameter for the knn classifier
		Neighbors int `yaml:"neighbors"`

		// BalanceClasses downsamples majority classes before training
		BalanceClasses bool `yaml:"balanceClasses"`

		// Classes lists the class label names
		Classes []string `yaml:"classes"`
	} `yaml:"training"`

	// Output parameters
	Output struct {
		// ProbabilityMaps writes one probability channel per class
		// instead of a single label image
		ProbabilityMaps bool `yaml:"probabilityMaps"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.MemoryBudgetMB = 0

	cfg.Features.Enabled = []string{"Original", "Gaussian_blur", "Sobel_filter", "Hessian"}
	cfg.Features.SigmaMin = 1.0
	cfg.Features.SigmaMax = 8.0

	cfg.Training.Classifier = "centroid"
	cfg.Training.Neighbors = 5
	cfg.Training.BalanceClasses = false
	cfg.Training.Classes = []string{"class 1", "class 2"}

	cfg.Output.ProbabilityMaps = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

	if cfg.Features.SigmaMin <= 0 || cfg.Features.SigmaMax < cfg.Features.SigmaMin {
		return nil, fmt.Errorf("invalid scale range [%g, %g]: sigmaMin must be positive and no larger than sigmaMax",
			cfg.Features.SigmaMin, cfg.Features.SigmaMax)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
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
	return SaveConfig(DefaultConfig(), configPath)
}
