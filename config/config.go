// Package config loads the YAML configuration shared by the service and
// the trainer. Every field has a default, so the file itself is optional.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"issuetriage/ml"
)

const DefaultFile = "config.yaml"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Training TrainingConfig `yaml:"training"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	// AdminToken protects POST /reload when set.
	AdminToken string `yaml:"admin_token"`
}

type ModelConfig struct {
	Path          string        `yaml:"path"`
	CacheSize     int           `yaml:"cache_size"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; empty disables persistence.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TrainingConfig struct {
	DataPath         string  `yaml:"data_path"`
	Charset          string  `yaml:"charset"`
	ModelType        string  `yaml:"model_type"`
	MinRows          int     `yaml:"min_rows"`
	MinPerClass      int     `yaml:"min_per_class"`
	TestRatio        float64 `yaml:"test_ratio"`
	Seed             int64   `yaml:"seed"`
	CVFolds          int     `yaml:"cv_folds"`
	CalibrationFolds int     `yaml:"calibration_folds"`
	MaxIter          int     `yaml:"max_iter"`
	MaxDepth         int     `yaml:"max_depth"`
	Workers          int     `yaml:"workers"`
	// DropDuplicates removes rows whose cleaned text and category repeat.
	DropDuplicates bool `yaml:"drop_duplicates"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8000,
			Timeout:        30 * time.Second,
			MaxBodyBytes:   64 << 10,
			AllowedOrigins: []string{"*"},
			RateLimit:      50,
			RateBurst:      100,
		},
		Model: ModelConfig{
			Path:          "model.json",
			CacheSize:     ml.DefaultCacheSize,
			WatchDebounce: ml.DefaultWatchDebounce,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Training: TrainingConfig{
			DataPath:         "data/train.csv",
			Charset:          "utf-8",
			ModelType:        ml.ModelTypeLogReg,
			MinRows:          10,
			MinPerClass:      2,
			TestRatio:        0.2,
			Seed:             42,
			CVFolds:          ml.DefaultSearchFolds,
			CalibrationFolds: ml.DefaultCalibrationFolds,
			MaxIter:          ml.DefaultMaxIter,
			MaxDepth:         ml.DefaultMaxDepth,
		},
	}
}

// Load reads path over the defaults. With an empty path it looks for
// config.yaml in the working directory and then its parent, so binaries
// started from cmd/ find the root config; relative file paths from a
// parent config are rebased onto that directory. Finding no file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = findDefault()
		if path == "" {
			return cfg, cfg.Validate()
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if !explicit {
		cfg.rebase(filepath.Dir(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func findDefault() string {
	for _, candidate := range []string{DefaultFile, filepath.Join("..", DefaultFile)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (c *Config) rebase(dir string) {
	if dir == "." || dir == "" {
		return
	}
	for _, p := range []*string{&c.Model.Path, &c.Database.Path, &c.Log.File, &c.Training.DataPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate rejects values the binaries cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must not be negative"))
	}
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.CacheSize < 0 {
		errs = append(errs, errors.New("model.cache_size must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	switch c.Training.ModelType {
	case ml.ModelTypeLogReg, ml.ModelTypeCalibratedLogReg, ml.ModelTypeDecisionTree:
	default:
		errs = append(errs, fmt.Errorf("training.model_type %q is not supported", c.Training.ModelType))
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		errs = append(errs, fmt.Errorf("training.test_ratio %v must be in (0, 1)", c.Training.TestRatio))
	}
	if c.Training.MinRows < 2 {
		errs = append(errs, errors.New("training.min_rows must be at least 2"))
	}
	if c.Training.MinPerClass < 2 {
		errs = append(errs, errors.New("training.min_per_class must be at least 2"))
	}
	if c.Training.CVFolds < 2 || c.Training.CalibrationFolds < 2 {
		errs = append(errs, errors.New("training.cv_folds and training.calibration_folds must be at least 2"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
