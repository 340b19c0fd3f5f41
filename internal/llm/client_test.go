package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightocr/ocrstream/internal/domain"
	"github.com/lightocr/ocrstream/internal/imaging"
	"github.com/lightocr/ocrstream/internal/observability"
)

func testImage() *imaging.EncodedImage {
	return &imaging.EncodedImage{
		MIME:   "image/jpeg",
		Data:   []byte{0xff, 0xd8, 0xff, 0xe0},
		Width:  100,
		Height: 140,
	}
}

func testOptions(stream bool) Options {
	return Options{
		Temperature: 0.1,
		MaxTokens:   4096,
		Stream:      stream,
		PageTimeout: 30 * time.Second,
	}
}

// decodeRequest unmarshals and sanity-checks the wire request.
func decodeRequest(t *testing.T, r *http.Request) Request {
	t.Helper()
	var req Request
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	return req
}

func TestSubmitRequestShape(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = decodeRequest(t, r)
		json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: "text"}}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model", observability.Nop())
	stream, err := c.Submit(context.Background(), testImage(), "Extract all text from this image.", testOptions(false))
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)

	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "text", got.Messages[0].Content[0].Type)
	assert.Equal(t, "Extract all text from this image.", got.Messages[0].Content[0].Text)

	require.Equal(t, "image_url", got.Messages[0].Content[1].Type)
	require.NotNil(t, got.Messages[0].Content[1].ImageURL)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestStreamingAndBufferedProduceSameTranscript(t *testing.T) {
	const want = "Page text, chunked."
	parts := []string{"Page ", "text, ", "chunked."}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if !req.Stream {
			json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: want}}}})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range parts {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", p)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", observability.Nop())

	for _, streaming := range []bool{true, false} {
		t.Run(fmt.Sprintf("stream=%v", streaming), func(t *testing.T) {
			stream, err := c.Submit(context.Background(), testImage(), "p", testOptions(streaming))
			require.NoError(t, err)
			assert.Equal(t, want, collect(t, stream))
		})
	}
}

func TestSubmitNon2xxIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", observability.Nop())
	_, err := c.Submit(context.Background(), testImage(), "p", testOptions(true))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeProtocol, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestSubmitConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewClient(srv.URL, "m", observability.Nop())
	_, err := c.Submit(context.Background(), testImage(), "p", testOptions(true))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTransport, domain.CodeOf(err))
}

func TestSubmitBufferedNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{ID: "x"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", observability.Nop())
	_, err := c.Submit(context.Background(), testImage(), "p", testOptions(false))
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeProtocol, domain.CodeOf(err))
}

// stallingServer never responds until the client hangs up.
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Delta{Content: "late text"}}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitBufferedEnforcesPageTimeout(t *testing.T) {
	srv := stallingServer(t)
	opts := testOptions(false)
	opts.PageTimeout = 50 * time.Millisecond

	c := NewClient(srv.URL, "m", observability.Nop())
	start := time.Now()
	_, err := c.Submit(context.Background(), testImage(), "p", opts)

	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTimeout, domain.CodeOf(err))
	assert.Less(t, time.Since(start), 2*time.Second, "a stalled server must not block past the budget")
}

func TestSubmitStreamingHeaderStallTimesOut(t *testing.T) {
	srv := stallingServer(t)
	opts := testOptions(true)
	opts.PageTimeout = 50 * time.Millisecond

	c := NewClient(srv.URL, "m", observability.Nop())
	start := time.Now()
	_, err := c.Submit(context.Background(), testImage(), "p", opts)

	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTimeout, domain.CodeOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamingMidStreamStallTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	opts := testOptions(true)
	opts.PageTimeout = 100 * time.Millisecond

	c := NewClient(srv.URL, "m", observability.Nop())
	stream, err := c.Submit(context.Background(), testImage(), "p", opts)
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk.Content)

	start := time.Now()
	_, err = stream.Next()
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTimeout, domain.CodeOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSubmitCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "m", observability.Nop())
	_, err := c.Submit(ctx, testImage(), "p", testOptions(true))
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name: "healthy",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				fmt.Fprint(w, `{"status":"ok"}`)
			},
		},
		{
			name: "degraded status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"status":"loading"}`)
			},
			wantErr: true,
		},
		{
			name: "non-200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: true,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "not json")
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewClient(srv.URL, "m", observability.Nop())
			err := c.Health(context.Background(), 5*time.Second)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealthTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", observability.Nop())
	err := c.Health(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeTimeout, domain.CodeOf(err))
}
