package context

import (
	"context"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/history"
)

// Store is the slice of the history log the builder needs.
type Store interface {
	LoadOrdered(ctx context.Context, userID int64) ([]history.Message, error)
	AppendAt(ctx context.Context, userID int64, role history.Role, content string, ts time.Time) error
}

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}
