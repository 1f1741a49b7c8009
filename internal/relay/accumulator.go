package relay

import (
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// action is what the relay must do with the sink after a token.
type action int

const (
	actNone action = iota
	actEmitNew
	actEmitUpdate
)

// accumulator is the per-call stream state: the text buffer, whether a UI
// message exists yet, its handle, and a one-token bucket that refills once
// per flush interval and stands in for the last-flush timestamp.
type accumulator struct {
	buf     strings.Builder
	flushes *rate.Limiter
	emitted bool
	handle  Handle
	tokens  int
	skipped int
}

func newAccumulator(interval time.Duration) *accumulator {
	return &accumulator{flushes: rate.NewLimiter(rate.Every(interval), 1)}
}

// add appends token and decides whether the UI should see the buffer now.
// Empty tokens never trigger a UI call.
func (a *accumulator) add(token string, now time.Time) action {
	if token == "" {
		return actNone
	}
	a.buf.WriteString(token)
	a.tokens++
	if !a.emitted {
		a.flushes.AllowN(now, 1)
		return actEmitNew
	}
	if a.flushes.AllowN(now, 1) {
		return actEmitUpdate
	}
	return actNone
}

// final is the closing flush: overwrite the existing message, or send the
// whole reply at once if nothing was shown yet.
func (a *accumulator) final() action {
	if a.emitted {
		return actEmitUpdate
	}
	return actEmitNew
}

func (a *accumulator) markEmitted(h Handle) {
	a.emitted = true
	a.handle = h
}

func (a *accumulator) text() string {
	return a.buf.String()
}
