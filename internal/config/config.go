// Package config provides layered configuration for ocrstream: built-in
// defaults, then an optional YAML file, then environment variables. Command
// line flags are applied on top by the cobra layer. The resulting Config is
// constructed once per run and passed into component constructors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lightocr/ocrstream/internal/domain"
)

// FlushMode selects the boundary at which accumulated transcript text is
// durably written.
type FlushMode string

const (
	FlushToken     FlushMode = "token"
	FlushWord      FlushMode = "word"
	FlushSentence  FlushMode = "sentence"
	FlushParagraph FlushMode = "paragraph"
	FlushLine      FlushMode = "line"
)

// FlushModes lists the accepted save modes in CLI help order.
var FlushModes = []FlushMode{FlushToken, FlushWord, FlushSentence, FlushParagraph, FlushLine}

// ServerConfig holds inference endpoint settings.
type ServerConfig struct {
	URL           string        `yaml:"url"`
	Model         string        `yaml:"model"`
	Prompt        string        `yaml:"prompt"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// RenderConfig holds page rasterization settings.
type RenderConfig struct {
	DPI             int `yaml:"dpi"`
	Quality         int `yaml:"quality"`
	MaxDimension    int `yaml:"max_dimension"`     // longest side in pixels
	MaxPayloadBytes int `yaml:"max_payload_bytes"` // encoded image cap
}

// StreamConfig holds request and streaming settings.
type StreamConfig struct {
	Enabled     bool          `yaml:"enabled"`
	SaveMode    FlushMode     `yaml:"save_mode"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	PageTimeout time.Duration `yaml:"page_timeout"`
}

// RepetitionConfig holds degenerate-output detector settings.
type RepetitionConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Window        int     `yaml:"window"`
	Threshold     float64 `yaml:"threshold"`
	MaxNormalReps int     `yaml:"max_normal_reps"`
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	MaxRetries int  `yaml:"max_retries"`
	SkipErrors bool `yaml:"skip_errors"`
	Resume     bool `yaml:"resume"`
	StartPage  int  `yaml:"start_page"` // 0 = first page
	EndPage    int  `yaml:"end_page"`   // 0 = last page
	Quiet      bool `yaml:"quiet"`
	Stats      bool `yaml:"stats"`
}

// OutputConfig holds persisted output settings.
type OutputConfig struct {
	Path        string `yaml:"path"` // empty = derive from source path
	Save        bool   `yaml:"save"`
	PageHeaders bool   `yaml:"page_headers"`
	Timing      bool   `yaml:"timing"`
	Normalize   bool   `yaml:"normalize"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full, immutable per-run configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Render     RenderConfig     `yaml:"render"`
	Stream     StreamConfig     `yaml:"stream"`
	Repetition RepetitionConfig `yaml:"repetition"`
	Run        RunConfig        `yaml:"run"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration, tuned for a local
// LightOnOCR server.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:           "http://localhost:8080",
			Model:         "LightOnOCR-1B-1025",
			Prompt:        "Extract all text from this image.",
			HealthTimeout: 5 * time.Second,
		},
		Render: RenderConfig{
			DPI:             200,
			Quality:         95,
			MaxDimension:    2048,
			MaxPayloadBytes: 20 * 1024 * 1024,
		},
		Stream: StreamConfig{
			Enabled:     true,
			SaveMode:    FlushToken,
			Temperature: 0.1,
			MaxTokens:   4096,
			PageTimeout: 120 * time.Second,
		},
		Repetition: RepetitionConfig{
			Enabled:       true,
			Window:        50,
			Threshold:     0.8,
			MaxNormalReps: 5,
		},
		Run: RunConfig{
			MaxRetries: 2,
		},
		Output: OutputConfig{
			Save:        true,
			PageHeaders: true,
			Timing:      true,
			Normalize:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("parse config file %s", path), err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges on the values components depend on.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return domain.ConfigError("server.url is required", nil)
	}
	if c.Server.Model == "" {
		return domain.ConfigError("server.model is required", nil)
	}
	if c.Render.DPI < 36 || c.Render.DPI > 1200 {
		return domain.ConfigError(fmt.Sprintf("render.dpi must be between 36 and 1200, got %d", c.Render.DPI), nil)
	}
	if c.Render.Quality < 1 || c.Render.Quality > 100 {
		return domain.ConfigError(fmt.Sprintf("render.quality must be between 1 and 100, got %d", c.Render.Quality), nil)
	}
	if c.Render.MaxDimension < 256 {
		return domain.ConfigError(fmt.Sprintf("render.max_dimension must be at least 256, got %d", c.Render.MaxDimension), nil)
	}
	if !validFlushMode(c.Stream.SaveMode) {
		return domain.ConfigError(fmt.Sprintf("stream.save_mode must be one of token, word, sentence, paragraph, line; got %q", c.Stream.SaveMode), nil)
	}
	if c.Stream.MaxTokens < 1 {
		return domain.ConfigError(fmt.Sprintf("stream.max_tokens must be positive, got %d", c.Stream.MaxTokens), nil)
	}
	if c.Stream.PageTimeout <= 0 {
		return domain.ConfigError("stream.page_timeout must be positive", nil)
	}
	if c.Repetition.Window < 2 {
		return domain.ConfigError(fmt.Sprintf("repetition.window must be at least 2, got %d", c.Repetition.Window), nil)
	}
	if c.Repetition.Threshold <= 0 || c.Repetition.Threshold > 1 {
		return domain.ConfigError(fmt.Sprintf("repetition.threshold must be in (0, 1], got %g", c.Repetition.Threshold), nil)
	}
	if c.Repetition.MaxNormalReps < 1 {
		return domain.ConfigError(fmt.Sprintf("repetition.max_normal_reps must be at least 1, got %d", c.Repetition.MaxNormalReps), nil)
	}
	if c.Run.MaxRetries < 0 {
		return domain.ConfigError(fmt.Sprintf("run.max_retries must not be negative, got %d", c.Run.MaxRetries), nil)
	}
	if c.Run.StartPage < 0 || c.Run.EndPage < 0 {
		return domain.ConfigError("run.start_page and run.end_page must not be negative", nil)
	}
	if c.Run.StartPage > 0 && c.Run.EndPage > 0 && c.Run.EndPage < c.Run.StartPage {
		return domain.ConfigError(fmt.Sprintf("run.end_page (%d) is before run.start_page (%d)", c.Run.EndPage, c.Run.StartPage), nil)
	}
	return nil
}

func validFlushMode(m FlushMode) bool {
	for _, mode := range FlushModes {
		if m == mode {
			return true
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OCRSTREAM_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("OCRSTREAM_MODEL"); v != "" {
		cfg.Server.Model = v
	}
	if v := os.Getenv("OCRSTREAM_PROMPT"); v != "" {
		cfg.Server.Prompt = v
	}
	if v := os.Getenv("OCRSTREAM_SAVE_MODE"); v != "" {
		cfg.Stream.SaveMode = FlushMode(v)
	}
	if v := os.Getenv("OCRSTREAM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxTokens = n
		}
	}
	if v := os.Getenv("OCRSTREAM_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.PageTimeout = d
		}
	}
	if v := os.Getenv("OCRSTREAM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OCRSTREAM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
