// Package config loads the typed yaml configuration. A missing file falls
// back to built-in defaults; a malformed file is a configuration error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration parses yaml durations written as strings like "24h" or "90m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	TargetColumn string `yaml:"target_column"`

	ModelParams struct {
		GBEstimators       int     `yaml:"gb_estimators"`
		GBMaxDepth         int     `yaml:"gb_max_depth"`
		GBLearningRate     float64 `yaml:"gb_learning_rate"`
		ForestEstimators   int     `yaml:"forest_estimators"`
		ForestMaxDepth     int     `yaml:"forest_max_depth"`
		LogisticC          float64 `yaml:"logistic_c"`
		LogisticIterations int     `yaml:"logistic_iterations"`
		Seed               int64   `yaml:"seed"`
	} `yaml:"model_params"`

	FeatureEngineering struct {
		ApprovalThreshold float64 `yaml:"approval_threshold"`
	} `yaml:"feature_engineering"`

	Training struct {
		TestSize        float64  `yaml:"test_size"`
		Seed            int64    `yaml:"seed"`
		StalenessWindow Duration `yaml:"staleness_window"`
		ModelDir        string   `yaml:"model_dir"`
		MinRows         int      `yaml:"min_rows"`
	} `yaml:"training"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Http struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level"`
		Path  string `yaml:"path"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.TargetColumn = "creditworthy"
	cfg.ModelParams.GBEstimators = 200
	cfg.ModelParams.GBMaxDepth = 4
	cfg.ModelParams.GBLearningRate = 0.1
	cfg.ModelParams.ForestEstimators = 200
	cfg.ModelParams.ForestMaxDepth = 6
	cfg.ModelParams.LogisticC = 0.1
	cfg.ModelParams.LogisticIterations = 1000
	cfg.ModelParams.Seed = 42
	cfg.FeatureEngineering.ApprovalThreshold = 0.7
	cfg.Training.TestSize = 0.2
	cfg.Training.Seed = 42
	cfg.Training.StalenessWindow = Duration(24 * time.Hour)
	cfg.Training.ModelDir = "./models"
	cfg.Training.MinRows = 20
	cfg.Database.Path = "./data/farmcredit.db"
	cfg.Http.Port = 8080
	cfg.Log.Level = "info"
	cfg.Log.Path = "./logs/farmcredit.log"
	return cfg
}

// Load reads the yaml file at path. A missing file is not an error: the
// defaults are returned along with found=false so the caller can log the
// fallback.
func Load(path string) (cfg *Config, found bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), false, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg = Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, true, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}
