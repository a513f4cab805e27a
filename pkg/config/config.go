package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml"

	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration options for spectrometer.
type Config struct {
	// Analysis settings
	Analysis AnalysisConfig `koanf:"analysis" toml:"analysis"`

	// Thresholds for per-function metrics
	Thresholds ThresholdConfig `koanf:"thresholds" toml:"thresholds"`

	// Unknown-pattern discovery
	Discovery DiscoveryConfig `koanf:"discovery" toml:"discovery"`

	// Health grade weights and minimums
	Grade GradeConfig `koanf:"grade" toml:"grade"`

	// File exclusion patterns
	Exclude ExcludeConfig `koanf:"exclude" toml:"exclude"`

	// Include globs; empty means every supported file
	Include []string `koanf:"include" toml:"include"`

	// Cache settings
	Cache CacheConfig `koanf:"cache" toml:"cache"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`

	// Logging
	Log LogConfig `koanf:"log" toml:"log"`
}

// AnalysisConfig controls how files are parsed and analysed.
type AnalysisConfig struct {
	Workers      int      `koanf:"workers" toml:"workers" validate:"gte=0,lte=1024"`
	MaxFileSize  int64    `koanf:"max_file_size" toml:"max_file_size" validate:"gte=0"`
	StageTimeout int      `koanf:"stage_timeout" toml:"stage_timeout" validate:"gte=0"` // seconds, 0 disables
	Languages    []string `koanf:"languages" toml:"languages" validate:"dive,oneof=go rust python typescript javascript tsx java c cpp csharp ruby php bash"`
}

// ThresholdConfig defines per-function metric thresholds.
type ThresholdConfig struct {
	CyclomaticComplexity int     `koanf:"cyclomatic_complexity" toml:"cyclomatic_complexity" validate:"gte=1"`
	MaxNesting           int     `koanf:"max_nesting" toml:"max_nesting" validate:"gte=1"`
	MinPurity            float64 `koanf:"min_purity" toml:"min_purity" validate:"gte=0,lte=1"`
}

// DiscoveryConfig controls unknown-pattern discovery.
type DiscoveryConfig struct {
	MinOccurrences int     `koanf:"min_occurrences" toml:"min_occurrences" validate:"gte=1"`
	MinConfidence  float64 `koanf:"min_confidence" toml:"min_confidence" validate:"gte=0,lte=1"`
	Samples        int     `koanf:"samples" toml:"samples" validate:"gte=0,lte=100"`
	SampleChars    int     `koanf:"sample_chars" toml:"sample_chars" validate:"gte=0"`
	Locations      int     `koanf:"locations" toml:"locations" validate:"gte=0,lte=1000"`
	StoreDir       string  `koanf:"store_dir" toml:"store_dir"` // empty disables persistence
	Repo           string  `koanf:"repo" toml:"repo"`           // empty derives it from the repository
}

// GradeConfig holds the health grade weights and minimums.
type GradeConfig struct {
	Weights    grade.Weights    `koanf:"weights" toml:"weights"`
	Thresholds grade.Thresholds `koanf:"thresholds" toml:"thresholds"`
}

// ExcludeConfig defines file exclusion patterns.
type ExcludeConfig struct {
	Patterns   []string `koanf:"patterns" toml:"patterns"`
	Extensions []string `koanf:"extensions" toml:"extensions"`
	Dirs       []string `koanf:"dirs" toml:"dirs"`
	Gitignore  bool     `koanf:"gitignore" toml:"gitignore"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled" toml:"enabled"`
	Dir     string `koanf:"dir" toml:"dir"`
	TTL     int    `koanf:"ttl" toml:"ttl" validate:"gte=0"` // TTL in hours
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format  string `koanf:"format" toml:"format" validate:"oneof=text json markdown md toon"`
	Color   bool   `koanf:"color" toml:"color"`
	Verbose bool   `koanf:"verbose" toml:"verbose"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" toml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Workers:      0,
			MaxFileSize:  1 << 20,
			StageTimeout: 0,
		},
		Thresholds: ThresholdConfig{
			CyclomaticComplexity: 10,
			MaxNesting:           4,
			MinPurity:            0.5,
		},
		Discovery: DiscoveryConfig{
			MinOccurrences: 5,
			MinConfidence:  0.3,
			Samples:        5,
			SampleChars:    200,
			Locations:      10,
		},
		Grade: GradeConfig{
			Weights: grade.DefaultWeights(),
		},
		Exclude: ExcludeConfig{
			Patterns: []string{
				"*.min.js",
				"*.min.css",
			},
			Extensions: []string{
				".lock",
				".sum",
			},
			Dirs: []string{
				"vendor",
				"node_modules",
				".git",
				".spectrometer",
				"dist",
				"build",
				"__pycache__",
				".venv",
			},
			Gitignore: true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".spectrometer/cache",
			TTL:     24,
		},
		Output: OutputConfig{
			Format:  "text",
			Color:   true,
			Verbose: false,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// StageTimeoutDuration returns the configured stage timeout.
func (c *Config) StageTimeoutDuration() time.Duration {
	return time.Duration(c.Analysis.StageTimeout) * time.Second
}

// CacheTTL returns the configured cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Hour
}

// Load loads configuration from a file over the defaults and validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	// Determine parser based on extension
	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		parser = toml.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// configNames are the file names searched for, in order.
var configNames = []string{
	"spectrometer.toml",
	"spectrometer.yaml",
	"spectrometer.yml",
	"spectrometer.json",
	".spectrometer.toml",
	".spectrometer.yaml",
	".spectrometer.yml",
	".spectrometer.json",
}

// Find returns the first config file under dir or dir/.spectrometer, or ""
// when none exists.
func Find(dir string) string {
	for _, sub := range []string{".", ".spectrometer"} {
		for _, name := range configNames {
			path := filepath.Join(dir, sub, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadOrDefault loads the first config found under dir, or returns the
// defaults when there is none. A config that exists but is invalid is an
// error.
func LoadOrDefault(dir string) (*Config, error) {
	path := Find(dir)
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// WriteTOML writes the config as TOML.
func (c *Config) WriteTOML(w io.Writer) error {
	data, err := gotoml.Marshal(*c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// ShouldExclude checks if a path should be excluded from analysis.
func (c *Config) ShouldExclude(path string) bool {
	path = filepath.ToSlash(path)
	for _, dir := range c.Exclude.Dirs {
		if strings.Contains(path, "/"+dir+"/") || strings.HasPrefix(path, dir+"/") {
			return true
		}
	}

	ext := filepath.Ext(path)
	for _, excludeExt := range c.Exclude.Extensions {
		if ext == excludeExt {
			return true
		}
	}

	base := filepath.Base(path)
	for _, pattern := range c.Exclude.Patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}

	return false
}
