// Package ocrstream is the public entry point for the streaming OCR
// pipeline: it wires the image source, inference client and page
// orchestrator together and exposes progress as an event channel.
package ocrstream

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lightocr/ocrstream/internal/config"
	"github.com/lightocr/ocrstream/internal/domain"
	"github.com/lightocr/ocrstream/internal/imaging"
	"github.com/lightocr/ocrstream/internal/llm"
	"github.com/lightocr/ocrstream/internal/ocr"
)

// Re-export the types callers consume.
type (
	Config     = config.Config
	Event      = domain.Event
	EventType  = domain.EventType
	Report     = ocr.Report
	PageReport = ocr.PageReport
)

// Event type constants.
const (
	EventStart        = domain.EventStart
	EventPageStart    = domain.EventPageStart
	EventChunk        = domain.EventChunk
	EventPageDone     = domain.EventPageDone
	EventPageFailed   = domain.EventPageFailed
	EventPageSkipped  = domain.EventPageSkipped
	EventPageRetrying = domain.EventPageRetrying
	EventComplete     = domain.EventComplete
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig builds the layered configuration, reading the YAML file at
// path when non-empty.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Client runs OCR over documents against one inference server.
type Client struct {
	cfg    *config.Config
	llm    *llm.Client
	logger zerolog.Logger
}

// NewClient creates a client from a validated configuration.
func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		llm:    llm.NewClient(cfg.Server.URL, cfg.Server.Model, logger),
		logger: logger,
	}, nil
}

// Health probes the inference server liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.llm.Health(ctx, c.cfg.Server.HealthTimeout)
}

// Process runs OCR over the document or image at path. It returns a channel
// that streams progress events; the terminal EventComplete carries the
// *Report, and a failed run emits EventPageFailed before the channel
// closes. The returned result function blocks until processing ends and
// reports the final outcome.
func (c *Client) Process(ctx context.Context, path string) (<-chan Event, func() (*Report, error), error) {
	src, err := imaging.NewSource(path, imaging.RenderOptions{
		DPI:             c.cfg.Render.DPI,
		Quality:         c.cfg.Render.Quality,
		MaxDimension:    c.cfg.Render.MaxDimension,
		MaxPayloadBytes: c.cfg.Render.MaxPayloadBytes,
	})
	if err != nil {
		return nil, nil, err
	}

	events := make(chan Event, 100)
	done := make(chan struct{})

	var (
		report *Report
		runErr error
	)

	orch := ocr.New(c.cfg, c.llm, c.logger, events)
	go func() {
		defer close(done)
		defer close(events)
		defer src.Close()
		report, runErr = orch.Process(ctx, src, path)
	}()

	result := func() (*Report, error) {
		<-done
		return report, runErr
	}
	return events, result, nil
}
