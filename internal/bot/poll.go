package bot

import (
	"context"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/logging"
)

// PollOptions configures the long-poll loop.
type PollOptions struct {
	Offset  int64
	Timeout int
	// Sleep is the base wait after a failed poll; it doubles per consecutive
	// failure.
	Sleep   time.Duration
	Breaker *control.CircuitBreaker
	Now     func() time.Time
}

// Run long-polls the commander and handles every update in its own goroutine
// until ctx is cancelled. In-flight handlers are not cancelled; Run waits for
// them before returning.
func (b *Bot) Run(ctx context.Context, opts PollOptions) error {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = control.NewCircuitBreaker(5, 30*time.Second)
	}
	handlerCtx := context.WithoutCancel(ctx)
	logger := b.logger()

	var wg sync.WaitGroup
	defer wg.Wait()

	offset := opts.Offset
	failures := 0
	for ctx.Err() == nil {
		if !breaker.Allow(now()) {
			sleepCtx(ctx, control.PollBackoff(opts.Sleep, 1))
			continue
		}

		updates, err := b.Commander.GetUpdates(ctx, offset, opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			class := control.ClassifyPollError(err)
			logger.Warn("getUpdates failed", "class", class, "attempt", failures, "err", logging.Scrub(err.Error()))
			b.event(db.EventPollFailed, map[string]any{"error_class": class, "attempt": failures})
			if breaker.RecordFailure(class, now()) {
				logger.Error("poll circuit opened", "class", class, "cooldown", breaker.Cooldown)
				b.event(db.EventCircuitOpened, map[string]any{
					"error_class":      class,
					"threshold":        breaker.Threshold,
					"cooldown_seconds": int(breaker.Cooldown.Seconds()),
				})
			}
			sleepCtx(ctx, control.PollBackoff(opts.Sleep, failures))
			continue
		}
		failures = 0
		if breaker.RecordSuccess() {
			logger.Info("poll circuit closed")
			b.event(db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			wg.Add(1)
			go func(u cmdpkg.Update) {
				defer wg.Done()
				b.HandleUpdate(handlerCtx, u)
			}(u)
		}
	}
	logger.Info("poll loop stopped", "offset", offset)
	return nil
}

// BootstrapOffset picks the first offset on startup so that a restarted bot
// only answers recent messages: updates older than pendingWindowSeconds are
// skipped, and at most pendingMaxMessages of the rest are kept.
func BootstrapOffset(ctx context.Context, commander cmdpkg.Commander, now time.Time, pendingWindowSeconds int64, pendingMaxMessages int) (int64, error) {
	updates, err := commander.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := now.Unix() - pendingWindowSeconds
	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}
	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}
	if pendingMaxMessages > 0 && len(inWindow) > pendingMaxMessages {
		inWindow = inWindow[len(inWindow)-pendingMaxMessages:]
	}
	return inWindow[0].UpdateID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// userLocks is a reference-counted keyed mutex: one lock per external user
// id, dropped from the map when nobody holds or waits for it.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*userLock)
	}
	ul, ok := l.locks[id]
	if !ok {
		ul = &userLock{}
		l.locks[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
