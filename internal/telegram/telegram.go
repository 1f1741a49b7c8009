package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
)

const (
	// MaxDisplayChars keeps a message below Telegram's 4096-character cap.
	MaxDisplayChars = 3900
	// EmptyPlaceholder is displayed instead of an empty text, which Telegram rejects.
	EmptyPlaceholder = "(пустой ответ)"
)

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// APIError is an ok=false reply from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed code=%d: %s", e.Method, e.Code, e.Description)
}

// NotModified reports whether the edit was a no-op because the text is
// unchanged.
func (e *APIError) NotModified() bool {
	return strings.Contains(strings.ToLower(e.Description), "message is not modified")
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat
type User = cmdpkg.User

// GetUpdates calls the getUpdates API. Updates that carry no message are
// returned with a nil Message so the caller can still advance its offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))
	params.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create getUpdates request: %w", scrubErr(err))
	}
	var updates []Update
	if err := c.do(req, "getUpdates", &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat and returns its id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var sent Message
	err := c.post(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    displayText(text),
	}, &sent)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text of an earlier message. Editing to the
// same text is not an error.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	err := c.post(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       displayText(text),
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.NotModified() {
		return nil
	}
	return err
}

func (c *Client) post(ctx context.Context, method string, payload map[string]any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, scrubErr(err))
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, result)
}

func (c *Client) do(req *http.Request, method string, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, scrubErr(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, scrubErr(err))
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response status=%d: %w", method, resp.StatusCode, err)
	}
	if !tgResp.OK {
		return &APIError{Method: method, Code: tgResp.ErrorCode, Description: tgResp.Description}
	}
	if result == nil || len(tgResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(tgResp.Result, result); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// displayText is what Telegram is actually sent for text.
func displayText(text string) string {
	if strings.TrimSpace(text) == "" {
		return EmptyPlaceholder
	}
	return logging.Truncate(text, MaxDisplayChars)
}

// scrubErr strips the bot token, which is part of every request URL, from
// transport errors.
func scrubErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(logging.Scrub(err.Error()))
}
