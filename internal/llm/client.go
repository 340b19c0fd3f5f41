// Package llm drives a chat-completion style inference endpoint and exposes
// responses as a uniform lazy sequence of content chunks, regardless of
// whether the server streams or buffers.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightocr/ocrstream/internal/domain"
	"github.com/lightocr/ocrstream/internal/imaging"
)

const (
	completionsPath = "/v1/chat/completions"
	healthPath      = "/health"
)

// Client handles communication with the inference server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Options control one OCR request.
type Options struct {
	Temperature float64
	MaxTokens   int
	Stream      bool
	PageTimeout time.Duration
}

// Message represents a chat message.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message.
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// Response represents the API response structure.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents message content in streaming and buffered responses.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// NewClient creates a client for the inference server at baseURL.
func NewClient(baseURL, model string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "llm").Logger(),
	}
}

// Health probes the server liveness endpoint.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return domain.TransportError("build health request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyRequestError("health check", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ProtocolError(fmt.Sprintf("health endpoint returned status %d", resp.StatusCode), nil)
	}

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return domain.ProtocolError("decode health response", err)
	}
	if hr.Status != "ok" {
		return domain.ProtocolError(fmt.Sprintf("server reported status %q", hr.Status), nil)
	}
	return nil
}

// Submit sends one OCR request for an encoded image and returns a lazy
// sequence of content chunks. With streaming disabled the whole response is
// fetched and wrapped as a single-chunk sequence, so callers consume both
// modes identically.
func (c *Client) Submit(ctx context.Context, img *imaging.EncodedImage, prompt string, opts Options) (ChunkStream, error) {
	body, err := json.Marshal(c.buildRequest(img, prompt, opts))
	if err != nil {
		return nil, domain.ProtocolError("marshal request", err)
	}

	// The page timeout bounds the whole exchange through the request
	// context: the header wait, buffered body reads, and stream reads all
	// fail once the budget elapses. The SSE stream additionally checks the
	// elapsed budget between chunks so a quietly stalled stream surfaces
	// as a timeout.
	deadline := time.Now().Add(opts.PageTimeout)
	var reqCtx context.Context
	var cancel context.CancelFunc
	if opts.PageTimeout > 0 {
		reqCtx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, domain.TransportError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, classifyRequestError("send request", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, domain.ProtocolError(
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	if !opts.Stream {
		defer cancel()
		return c.bufferResponse(resp)
	}

	return newSSEStream(resp.Body, deadline, cancel, c.logger), nil
}

// bufferResponse reads a non-streaming response in full and wraps it as a
// one-chunk stream.
func (c *Client) bufferResponse(resp *http.Response) (ChunkStream, error) {
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyRequestError("read response body", err)
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.ProtocolError("decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.ProtocolError("response contains no choices", nil)
	}

	content := parsed.Choices[0].Message.Content
	if content == "" {
		content = parsed.Choices[0].Delta.Content
	}
	return newBufferedStream(content), nil
}

func (c *Client) buildRequest(img *imaging.EncodedImage, prompt string, opts Options) *Request {
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))

	return &Request{
		Model: c.model,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
				},
			},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      opts.Stream,
	}
}

// classifyRequestError maps transport-layer failures onto the error
// taxonomy: deadline problems become timeouts, everything else transport.
func classifyRequestError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TimeoutError(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.TimeoutError(op, err)
	}
	return domain.TransportError(op, err)
}
