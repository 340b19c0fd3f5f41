package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightocr/ocrstream/internal/domain"
)

// ChunkStream is a lazy, single-pass, non-restartable sequence of content
// chunks. Next returns a chunk with Done set once the sequence ends; Close
// abandons the underlying transport.
type ChunkStream interface {
	Next() (domain.StreamChunk, error)
	Close() error
}

// bufferedStream wraps an already-fetched response as a one-chunk sequence.
type bufferedStream struct {
	content string
	emitted bool
}

func newBufferedStream(content string) *bufferedStream {
	return &bufferedStream{content: content}
}

func (s *bufferedStream) Next() (domain.StreamChunk, error) {
	if s.emitted {
		return domain.StreamChunk{Done: true}, nil
	}
	s.emitted = true
	return domain.StreamChunk{Content: s.content}, nil
}

func (s *bufferedStream) Close() error { return nil }

// sseStream parses a Server-Sent Events response body incrementally. Each
// "data:" line either JSON-decodes to a partial chunk or is the literal
// [DONE] terminator. Malformed events are logged and skipped.
type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	deadline time.Time
	cancel   func()
	logger   zerolog.Logger
	done     bool
}

func newSSEStream(body io.ReadCloser, deadline time.Time, cancel func(), logger zerolog.Logger) *sseStream {
	scanner := bufio.NewScanner(body)
	// Deltas carrying table rows can exceed the default 64KB line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &sseStream{
		body:     body,
		scanner:  scanner,
		deadline: deadline,
		cancel:   cancel,
		logger:   logger,
	}
}

// Next reads the next chunk from the stream. The page timeout budget is
// checked between chunks: a stream that outlives it fails with a timeout
// error rather than running to the max-token budget.
func (s *sseStream) Next() (domain.StreamChunk, error) {
	if s.done {
		return domain.StreamChunk{Done: true}, nil
	}
	if time.Now().After(s.deadline) {
		s.abandon()
		return domain.StreamChunk{}, domain.TimeoutError("no terminal event within page timeout", nil)
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			s.finish()
			return domain.StreamChunk{Done: true}, nil
		}

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			s.logger.Debug().Err(err).Str("event", truncateForLog(data)).Msg("skipping malformed stream event")
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finish()
			return domain.StreamChunk{Content: choice.Delta.Content, Done: true}, nil
		}
		return domain.StreamChunk{Content: choice.Delta.Content}, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.abandon()
		// A read killed by the request deadline is a timeout, not a
		// transport failure.
		return domain.StreamChunk{}, classifyRequestError("read stream", err)
	}

	// Stream ended without an explicit terminator.
	s.finish()
	return domain.StreamChunk{Done: true}, nil
}

func (s *sseStream) finish() {
	s.done = true
	s.body.Close()
	s.cancel()
}

func (s *sseStream) abandon() {
	s.done = true
	s.cancel()
	s.body.Close()
}

// Close abandons the stream, closing the underlying transport. Safe to call
// after the terminal chunk.
func (s *sseStream) Close() error {
	if !s.done {
		s.abandon()
	}
	return nil
}

func truncateForLog(s string) string {
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
