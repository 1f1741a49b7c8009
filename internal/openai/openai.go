package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

// Client is a minimal streaming chat completions client for OpenAI-compatible
// APIs such as DeepSeek.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates a client. timeout bounds the whole exchange, including
// reading the streamed body.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		url:    url,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []ctxpkg.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatCompletionStream posts the conversation with stream=true and returns a
// frame stream over the response body. A non-2xx status is returned as
// *model.StatusError with the body read in full.
func (c *Client) ChatCompletionStream(ctx context.Context, messages []ctxpkg.Message) (modelpkg.Stream, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &modelpkg.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 400)}
	}

	return newEventStream(resp.Body), nil
}

// eventStream decodes `data:` lines from a server-sent-events body.
type eventStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{body: body, reader: bufio.NewReader(body)}
}

// Next returns the next meaningful frame, io.EOF at the end of the body or
// after [DONE], and a wrapped error if the body cannot be read.
func (s *eventStream) Next() (modelpkg.Frame, error) {
	for !s.done {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if frame, ok := decodeLine(line); ok {
				if frame.Kind == modelpkg.FrameDone {
					s.done = true
				}
				return frame, nil
			}
		}
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				break
			}
			return modelpkg.Frame{}, fmt.Errorf("openai stream read failed: %w", err)
		}
	}
	return modelpkg.Frame{}, io.EOF
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

// decodeLine turns one SSE line into a frame. ok is false for lines that carry
// no frame: blank separators, comments and non-data fields.
func decodeLine(line []byte) (modelpkg.Frame, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return modelpkg.Frame{}, false
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 {
		return modelpkg.Frame{}, false
	}
	if bytes.Equal(data, []byte("[DONE]")) {
		return modelpkg.Frame{Kind: modelpkg.FrameDone}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return modelpkg.Frame{
			Kind: modelpkg.FrameSkip,
			Err:  fmt.Errorf("decode stream frame: %w", err),
			Raw:  truncate(string(data), 200),
		}, true
	}
	if chunk.Error != nil {
		return modelpkg.Frame{
			Kind: modelpkg.FrameSkip,
			Err:  fmt.Errorf("upstream stream error type=%s: %s", chunk.Error.Type, chunk.Error.Message),
			Raw:  truncate(string(data), 200),
		}, true
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return modelpkg.Frame{Kind: modelpkg.FrameToken}, true
	}
	return modelpkg.Frame{Kind: modelpkg.FrameToken, Token: *chunk.Choices[0].Delta.Content}, true
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
