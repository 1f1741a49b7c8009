package model

import (
	"context"
	"fmt"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
)

// FrameKind classifies one decoded unit of an upstream event stream.
type FrameKind int

const (
	// FrameToken carries zero or one incremental text token.
	FrameToken FrameKind = iota
	// FrameSkip is a frame that could not be used; the stream continues.
	FrameSkip
	// FrameDone is the explicit end-of-stream marker.
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameToken:
		return "token"
	case FrameSkip:
		return "skip"
	case FrameDone:
		return "done"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one decoded stream unit. Err is set on FrameSkip; Raw keeps the
// offending payload for logging.
type Frame struct {
	Kind  FrameKind
	Token string
	Err   error
	Raw   string
}

// Stream yields frames until io.EOF. Any other error from Next is fatal for
// the stream.
type Stream interface {
	Next() (Frame, error)
	Close() error
}

// Provider is the streaming completion abstraction used by the relay.
type Provider interface {
	ChatCompletionStream(ctx context.Context, messages []ctxpkg.Message) (Stream, error)
}

// StatusError is a non-success HTTP status from the completion API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream non-success status=%d body=%s", e.StatusCode, e.Body)
}
