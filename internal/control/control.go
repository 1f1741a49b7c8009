package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Error classes used to key the breaker.
const (
	ClassTimeout   = "timeout"
	ClassNetwork   = "network"
	ClassChatAPI   = "chat_api"
	ClassCancelled = "cancelled"
)

// PollBackoff is the wait after the given number of consecutive poll
// failures: base doubled per attempt, capped at 30s.
func PollBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt <= 1 {
		return base
	}
	const maxBackoff = 30 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// ClassifyPollError maps a transport error to a breaker class.
func ClassifyPollError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ClassTimeout
	case strings.Contains(msg, "request failed"), strings.Contains(msg, "connection"), strings.Contains(msg, "dial"):
		return ClassNetwork
	default:
		return ClassChatAPI
	}
}
