package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Limits        LimitsConfig        `yaml:"limits"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Blobstore     BlobstoreConfig     `yaml:"blobstore"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	Address     string `yaml:"address"`
	MaxBodySize int64  `yaml:"max_body_size"` // bytes, upload size ceiling
}

// LimitsConfig contains audio splitting limits
type LimitsConfig struct {
	MaxChunkBytes      int     `yaml:"max_chunk_bytes"`
	MaxChunkDuration   float64 `yaml:"max_chunk_duration"` // seconds
	HardLimitBytes     int     `yaml:"hard_limit_bytes"`
	MinSampleRate      int     `yaml:"min_sample_rate"` // Hz, downsampling floor
	DownsampleAttempts int     `yaml:"downsample_attempts"`
}

// TranscriptionConfig contains transcription provider configuration
type TranscriptionConfig struct {
	APIKey      string  `yaml:"api_key"` // overridden by OPENAI_API_KEY
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Language    string  `yaml:"language"`
	Prompt      string  `yaml:"prompt"`
	Temperature float32 `yaml:"temperature"`
}

// PipelineConfig contains scheduling and failure policy configuration
type PipelineConfig struct {
	Concurrency    int     `yaml:"concurrency"`
	BatchDelay     float64 `yaml:"batch_delay"` // seconds
	MaxRetries     int     `yaml:"max_retries"`
	RetryBaseDelay float64 `yaml:"retry_base_delay"` // seconds
	RetryMaxDelay  float64 `yaml:"retry_max_delay"`  // seconds
	AttemptTimeout float64 `yaml:"attempt_timeout"`  // seconds, 0 disables
	FailureCeiling float64 `yaml:"failure_ceiling"`  // fraction 0..1
	RunRetention   float64 `yaml:"run_retention"`    // seconds
}

// BlobstoreConfig contains chunk staging configuration
type BlobstoreConfig struct {
	Backend string  `yaml:"backend"` // "memory" or "http"
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	Timeout float64 `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.MaxBodySize == 0 {
		c.HTTP.MaxBodySize = 2 << 30 // 2GB
	}

	if c.Limits.MaxChunkBytes == 0 {
		c.Limits.MaxChunkBytes = 24_500_000
	}
	if c.Limits.MaxChunkDuration == 0 {
		c.Limits.MaxChunkDuration = 300
	}
	if c.Limits.HardLimitBytes == 0 {
		c.Limits.HardLimitBytes = 25_000_000
	}
	if c.Limits.MinSampleRate == 0 {
		c.Limits.MinSampleRate = 8000
	}
	if c.Limits.DownsampleAttempts == 0 {
		c.Limits.DownsampleAttempts = 3
	}

	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}

	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 2
	}
	if c.Pipeline.BatchDelay == 0 {
		c.Pipeline.BatchDelay = 0.75
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.RetryBaseDelay == 0 {
		c.Pipeline.RetryBaseDelay = 1
	}
	if c.Pipeline.RetryMaxDelay == 0 {
		c.Pipeline.RetryMaxDelay = 30
	}
	if c.Pipeline.AttemptTimeout == 0 {
		c.Pipeline.AttemptTimeout = 120
	}
	if c.Pipeline.FailureCeiling == 0 {
		c.Pipeline.FailureCeiling = 0.3
	}
	if c.Pipeline.RunRetention == 0 {
		c.Pipeline.RunRetention = 900
	}

	if c.Blobstore.Backend == "" {
		c.Blobstore.Backend = "memory"
	}
	if c.Blobstore.Timeout == 0 {
		c.Blobstore.Timeout = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Blobstore.Validate(); err != nil {
		return fmt.Errorf("blobstore config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.MaxBodySize < 1 {
		return fmt.Errorf("max_body_size must be positive, got %d", h.MaxBodySize)
	}

	return nil
}

// Validate validates splitting limits
func (l *LimitsConfig) Validate() error {
	if l.MaxChunkBytes < 1024 {
		return fmt.Errorf("max_chunk_bytes must be at least 1024, got %d", l.MaxChunkBytes)
	}

	if l.HardLimitBytes < l.MaxChunkBytes {
		return fmt.Errorf("hard_limit_bytes (%d) must be at least max_chunk_bytes (%d)",
			l.HardLimitBytes, l.MaxChunkBytes)
	}

	if l.MaxChunkDuration <= 0 {
		return fmt.Errorf("max_chunk_duration must be positive, got %f", l.MaxChunkDuration)
	}

	if l.MinSampleRate < 4000 {
		return fmt.Errorf("min_sample_rate must be at least 4000 Hz, got %d", l.MinSampleRate)
	}

	if l.DownsampleAttempts < 1 {
		return fmt.Errorf("downsample_attempts must be at least 1, got %d", l.DownsampleAttempts)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Concurrency < 1 || p.Concurrency > 2 {
		return fmt.Errorf("concurrency must be 1 or 2, got %d", p.Concurrency)
	}

	if p.BatchDelay < 0 {
		return fmt.Errorf("batch_delay cannot be negative, got %f", p.BatchDelay)
	}

	if p.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", p.MaxRetries)
	}

	if p.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry_base_delay must be positive, got %f", p.RetryBaseDelay)
	}

	if p.RetryMaxDelay < p.RetryBaseDelay {
		return fmt.Errorf("retry_max_delay (%f) must be at least retry_base_delay (%f)",
			p.RetryMaxDelay, p.RetryBaseDelay)
	}

	if p.AttemptTimeout < 0 {
		return fmt.Errorf("attempt_timeout cannot be negative, got %f", p.AttemptTimeout)
	}

	if p.FailureCeiling <= 0 || p.FailureCeiling > 1 {
		return fmt.Errorf("failure_ceiling must be in (0, 1], got %f", p.FailureCeiling)
	}

	if p.RunRetention <= 0 {
		return fmt.Errorf("run_retention must be positive, got %f", p.RunRetention)
	}

	return nil
}

// Validate validates blobstore configuration
func (b *BlobstoreConfig) Validate() error {
	switch b.Backend {
	case "memory":
	case "http":
		if b.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty for the http backend")
		}
	default:
		return fmt.Errorf("backend must be 'memory' or 'http', got '%s'", b.Backend)
	}

	if b.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %f", b.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetBatchDelay returns the inter-batch delay as a time.Duration
func (p *PipelineConfig) GetBatchDelay() time.Duration {
	return time.Duration(p.BatchDelay * float64(time.Second))
}

// GetRetryBaseDelay returns the first-retry backoff as a time.Duration
func (p *PipelineConfig) GetRetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelay * float64(time.Second))
}

// GetRetryMaxDelay returns the backoff ceiling as a time.Duration
func (p *PipelineConfig) GetRetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelay * float64(time.Second))
}

// GetAttemptTimeout returns the per-attempt deadline as a time.Duration
func (p *PipelineConfig) GetAttemptTimeout() time.Duration {
	return time.Duration(p.AttemptTimeout * float64(time.Second))
}

// GetRunRetention returns the finished-run retention as a time.Duration
func (p *PipelineConfig) GetRunRetention() time.Duration {
	return time.Duration(p.RunRetention * float64(time.Second))
}

// GetTimeoutDuration returns the blobstore timeout as a time.Duration
func (b *BlobstoreConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout * float64(time.Second))
}
