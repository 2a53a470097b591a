// Package config loads the service configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is where commands look when --config is not given.
const DefaultConfigPath = "config/accuracy.json"

const (
	defaultDBPath            = "accuracy.db"
	defaultListen            = ":8080"
	defaultToleranceMs       = 1000
	defaultLocation          = "UTC"
	defaultIngestConcurrency = 4
	defaultAnalysisInterval  = 15 * time.Minute
	defaultAnalysisBatch     = 50
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
)

// Config is the root configuration. Every field is optional; the Get*
// methods supply defaults for anything omitted, so partial files are safe.
type Config struct {
	// Storage and serving
	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`

	// Matching and clocks
	ToleranceMs     *int    `json:"tolerance_ms,omitempty"`
	ReferenceOffset *string `json:"reference_offset,omitempty"` // duration string like "5h30m"
	LunaLocation    *string `json:"luna_location,omitempty"`    // IANA zone name

	// Pipeline
	IngestConcurrency *int    `json:"ingest_concurrency,omitempty"`
	AnalysisInterval  *string `json:"analysis_interval,omitempty"` // duration string like "15m"
	AnalysisBatchSize *int    `json:"analysis_batch_size,omitempty"`

	// Logging
	LogLevel  *string `json:"log_level,omitempty"`
	LogFormat *string `json:"log_format,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists. A missing file at the default
// path yields an empty Config; any other failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == DefaultConfigPath {
		return Empty(), nil
	}
	return LoadConfig(path)
}

// Validate checks that the set values are usable.
func (c *Config) Validate() error {
	if c.ToleranceMs != nil && *c.ToleranceMs < 0 {
		return fmt.Errorf("tolerance_ms must be non-negative, got %d", *c.ToleranceMs)
	}
	if c.ReferenceOffset != nil && *c.ReferenceOffset != "" {
		if _, err := time.ParseDuration(*c.ReferenceOffset); err != nil {
			return fmt.Errorf("invalid reference_offset '%s': %w", *c.ReferenceOffset, err)
		}
	}
	if c.LunaLocation != nil && *c.LunaLocation != "" {
		if _, err := time.LoadLocation(*c.LunaLocation); err != nil {
			return fmt.Errorf("invalid luna_location '%s': %w", *c.LunaLocation, err)
		}
	}
	if c.IngestConcurrency != nil && *c.IngestConcurrency < 1 {
		return fmt.Errorf("ingest_concurrency must be at least 1, got %d", *c.IngestConcurrency)
	}
	if c.AnalysisInterval != nil && *c.AnalysisInterval != "" {
		d, err := time.ParseDuration(*c.AnalysisInterval)
		if err != nil {
			return fmt.Errorf("invalid analysis_interval '%s': %w", *c.AnalysisInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("analysis_interval must be positive, got %s", d)
		}
	}
	if c.AnalysisBatchSize != nil && *c.AnalysisBatchSize < 1 {
		return fmt.Errorf("analysis_batch_size must be at least 1, got %d", *c.AnalysisBatchSize)
	}
	if c.LogLevel != nil {
		switch *c.LogLevel {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log_level must be debug, info, warn or error, got %q", *c.LogLevel)
		}
	}
	if c.LogFormat != nil {
		switch *c.LogFormat {
		case "", "json", "console":
		default:
			return fmt.Errorf("log_format must be json or console, got %q", *c.LogFormat)
		}
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func (c *Config) GetDBPath() string { return stringOr(c.DBPath, defaultDBPath) }
func (c *Config) GetListen() string { return stringOr(c.Listen, defaultListen) }

// GetTolerance returns the pairing tolerance.
func (c *Config) GetTolerance() time.Duration {
	if c.ToleranceMs == nil {
		return defaultToleranceMs * time.Millisecond
	}
	return time.Duration(*c.ToleranceMs) * time.Millisecond
}

// GetReferenceOffset returns the shift applied to benchmark timestamps.
func (c *Config) GetReferenceOffset() time.Duration {
	if c.ReferenceOffset == nil || *c.ReferenceOffset == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ReferenceOffset)
	if err != nil {
		return 0
	}
	return d
}

// GetLunaLocation returns the zone Luna wall-clock stamps are read in.
func (c *Config) GetLunaLocation() *time.Location {
	loc, err := time.LoadLocation(stringOr(c.LunaLocation, defaultLocation))
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) GetIngestConcurrency() int {
	if c.IngestConcurrency == nil {
		return defaultIngestConcurrency
	}
	return *c.IngestConcurrency
}

// GetAnalysisInterval is how often the background worker looks for
// sessions without an analysis.
func (c *Config) GetAnalysisInterval() time.Duration {
	if c.AnalysisInterval == nil || *c.AnalysisInterval == "" {
		return defaultAnalysisInterval
	}
	d, err := time.ParseDuration(*c.AnalysisInterval)
	if err != nil || d <= 0 {
		return defaultAnalysisInterval
	}
	return d
}

func (c *Config) GetAnalysisBatchSize() int {
	if c.AnalysisBatchSize == nil {
		return defaultAnalysisBatch
	}
	return *c.AnalysisBatchSize
}

func (c *Config) GetLogLevel() string  { return stringOr(c.LogLevel, defaultLogLevel) }
func (c *Config) GetLogFormat() string { return stringOr(c.LogFormat, defaultLogFormat) }
