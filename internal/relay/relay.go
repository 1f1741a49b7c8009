// Package relay streams a completion into a chat message that is edited in
// place, then persists the finished reply.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	ctxpkg "github.com/stupiduntilnot/chatrelay/internal/context"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
)

// UpstreamErrorNotice is shown when the completion API rejects the request.
const UpstreamErrorNotice = "⚠️ Ошибка API. Попробуйте позже."

// DefaultFlushInterval is the minimum gap between two in-place UI updates.
const DefaultFlushInterval = 500 * time.Millisecond

// Handle identifies a UI message emitted through a Sink.
type Handle int64

// Sink is the chat surface a reply is streamed into.
type Sink interface {
	EmitNew(ctx context.Context, text string) (Handle, error)
	EmitUpdate(ctx context.Context, h Handle, text string) error
}

// Appender persists the finished reply.
type Appender interface {
	Append(ctx context.Context, userID int64, role history.Role, content string) error
}

type phase string

const (
	phaseRequesting phase = "requesting"
	phaseStreaming  phase = "streaming"
	phaseFinalizing phase = "finalizing"
	phasePersisting phase = "persisting"
)

// Relay owns one upstream provider and the history it writes replies to.
type Relay struct {
	Provider      modelpkg.Provider
	History       Appender
	FlushInterval time.Duration
	Now           func() time.Time
	Logger        *log.Logger
	// DB and ParentEventID are optional; when DB is set, relay events are
	// recorded under ParentEventID.
	DB            *sql.DB
	ParentEventID *int64
}

// StreamReply sends view upstream, streams the reply into sink with throttled
// in-place updates, and appends the full reply as an assistant message.
//
// An upstream rejection is reported to the user through sink and returns nil
// without persisting anything. Every other failure is returned wrapped with
// the phase it happened in.
func (r *Relay) StreamReply(ctx context.Context, userID int64, view []ctxpkg.Message, sink Sink) error {
	relayID := uuid.NewString()
	logger := r.logger().With("relay_id", relayID, "user_id", userID)
	started := r.now()
	eventID := r.event(r.ParentEventID, db.EventRelayStarted, map[string]any{
		"relay_id":      relayID,
		"user_id":       userID,
		"context_count": len(view),
	})

	acc, err := r.run(ctx, userID, view, sink, logger, &eventID)
	if err != nil {
		var rejected *modelpkg.StatusError
		if errors.As(err, &rejected) {
			body := logging.Scrub(rejected.Body)
			logger.Error("upstream rejected request", "status", rejected.StatusCode, "body", body)
			r.event(&eventID, db.EventUpstreamRejected, map[string]any{
				"status": rejected.StatusCode,
				"body":   logging.Truncate(body, 400),
			})
			if _, notifyErr := sink.EmitNew(ctx, UpstreamErrorNotice); notifyErr != nil {
				return fmt.Errorf("relay notify upstream rejection: %w", notifyErr)
			}
			return nil
		}
		logger.Error("relay failed", "err", logging.Scrub(err.Error()))
		r.event(&eventID, db.EventRelayFailed, map[string]any{
			"error": logging.Truncate(logging.Scrub(err.Error()), 1000),
		})
		return err
	}

	logger.Info("relay completed",
		"tokens", acc.tokens,
		"skipped", acc.skipped,
		"chars", len([]rune(acc.text())),
		"latency_ms", r.now().Sub(started).Milliseconds(),
	)
	r.event(&eventID, db.EventRelayCompleted, map[string]any{
		"tokens":     acc.tokens,
		"skipped":    acc.skipped,
		"latency_ms": r.now().Sub(started).Milliseconds(),
	})
	return nil
}

func (r *Relay) run(ctx context.Context, userID int64, view []ctxpkg.Message, sink Sink, logger *log.Logger, eventID *int64) (*accumulator, error) {
	stream, err := r.Provider.ChatCompletionStream(ctx, view)
	if err != nil {
		var rejected *modelpkg.StatusError
		if errors.As(err, &rejected) {
			return nil, rejected
		}
		return nil, fmt.Errorf("relay %s: %w", phaseRequesting, err)
	}
	defer stream.Close()

	acc := newAccumulator(r.flushInterval())
	if err := r.consume(ctx, stream, acc, sink, logger, eventID); err != nil {
		return nil, fmt.Errorf("relay %s: %w", phaseStreaming, err)
	}

	if err := r.flush(ctx, acc, acc.final(), sink); err != nil {
		return nil, fmt.Errorf("relay %s: %w", phaseFinalizing, err)
	}

	if err := r.History.Append(ctx, userID, history.RoleAssistant, acc.text()); err != nil {
		return nil, fmt.Errorf("relay %s: %w", phasePersisting, err)
	}
	return acc, nil
}

// consume drives the frame loop until [DONE] or end of body.
func (r *Relay) consume(ctx context.Context, stream modelpkg.Stream, acc *accumulator, sink Sink, logger *log.Logger, eventID *int64) error {
	for {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch frame.Kind {
		case modelpkg.FrameDone:
			return nil
		case modelpkg.FrameSkip:
			acc.skipped++
			logger.Warn("skipping stream frame", "err", frame.Err, "raw", frame.Raw)
			r.event(eventID, db.EventFrameSkipped, map[string]any{
				"error": fmt.Sprint(frame.Err),
				"raw":   frame.Raw,
			})
		case modelpkg.FrameToken:
			if err := r.flush(ctx, acc, acc.add(frame.Token, r.now()), sink); err != nil {
				return err
			}
		default:
			logger.Warn("unknown frame kind", "kind", frame.Kind)
		}
	}
}

func (r *Relay) flush(ctx context.Context, acc *accumulator, act action, sink Sink) error {
	switch act {
	case actEmitNew:
		h, err := sink.EmitNew(ctx, acc.text())
		if err != nil {
			return fmt.Errorf("emit new message: %w", err)
		}
		acc.markEmitted(h)
	case actEmitUpdate:
		if err := sink.EmitUpdate(ctx, acc.handle, acc.text()); err != nil {
			return fmt.Errorf("emit update: %w", err)
		}
	}
	return nil
}

func (r *Relay) event(parent *int64, eventType string, payload map[string]any) int64 {
	if r.DB == nil {
		return 0
	}
	id, err := db.LogEvent(r.DB, parent, eventType, payload)
	if err != nil {
		r.logger().Debug("event write failed", "type", eventType, "err", err)
	}
	return id
}

func (r *Relay) flushInterval() time.Duration {
	if r.FlushInterval > 0 {
		return r.FlushInterval
	}
	return DefaultFlushInterval
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Relay) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
