package context

import (
	"context"
	"fmt"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/history"
)

// Builder assembles the outbound conversation view for one user.
type Builder struct {
	Store      Store
	Compressor Compressor
	// Now stamps a freshly persisted system prompt when history is empty.
	Now func() time.Time
}

// Stats describes one BuildContext call for event logging.
type Stats struct {
	StoredCount   int
	ViewCount     int
	EnsuredSystem bool
}

// BuildContext loads the user's history, makes sure it starts with a system
// prompt (persisting one if missing), and truncates the result for sending
// upstream. The stored log itself is never truncated.
func (b *Builder) BuildContext(ctx context.Context, userID int64, systemPrompt string) ([]Message, bool, error) {
	view, stats, err := b.build(ctx, userID, systemPrompt)
	return view, stats.EnsuredSystem, err
}

// BuildContextStats is BuildContext plus counts for logging.
func (b *Builder) BuildContextStats(ctx context.Context, userID int64, systemPrompt string) ([]Message, Stats, error) {
	return b.build(ctx, userID, systemPrompt)
}

func (b *Builder) build(ctx context.Context, userID int64, systemPrompt string) ([]Message, Stats, error) {
	stored, err := b.Store.LoadOrdered(ctx, userID)
	if err != nil {
		return nil, Stats{}, err
	}
	stats := Stats{StoredCount: len(stored)}

	view := make([]Message, 0, len(stored)+1)
	if len(stored) == 0 || stored[0].Role != history.RoleSystem {
		// Stamp the prompt just before the oldest entry so it loads first next time.
		ts := b.now()
		if len(stored) > 0 {
			ts = stored[0].Timestamp.Add(-time.Nanosecond)
		}
		if err := b.Store.AppendAt(ctx, userID, history.RoleSystem, systemPrompt, ts); err != nil {
			return nil, Stats{}, fmt.Errorf("persist system prompt: %w", err)
		}
		view = append(view, Message{Role: string(history.RoleSystem), Content: systemPrompt})
		stats.EnsuredSystem = true
		stats.StoredCount++
	}
	view = append(view, FromHistory(stored)...)

	if b.Compressor != nil {
		view = b.Compressor.Compress(view)
	}
	stats.ViewCount = len(view)
	return view, stats, nil
}

// FromHistory converts stored messages into a view without truncation.
func FromHistory(stored []history.Message) []Message {
	out := make([]Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
