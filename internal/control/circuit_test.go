package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	if c.RecordFailure(ClassNetwork, now) {
		t.Fatal("first failure must not open the breaker")
	}
	if !c.RecordFailure(ClassNetwork, now) {
		t.Fatal("expected threshold failure to open the breaker")
	}
	if c.State() != CircuitOpen || c.OpenedClass() != ClassNetwork {
		t.Fatalf("expected open on %s, got %s/%s", ClassNetwork, c.State(), c.OpenedClass())
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	if !c.RecordSuccess() {
		t.Fatal("expected probe success to report recovery")
	}
	if c.State() != CircuitClosed || c.Failures(ClassNetwork) != 0 {
		t.Fatalf("expected closed and reset, got %s", c.State())
	}
	if c.RecordSuccess() {
		t.Fatal("success on a closed breaker is not a recovery")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, time.Second)
	now := time.Now()
	c.RecordFailure(ClassTimeout, now)
	if !c.Allow(now.Add(time.Second)) {
		t.Fatal("expected probe after cooldown")
	}
	if !c.RecordFailure(ClassChatAPI, now.Add(time.Second)) {
		t.Fatal("failed probe must reopen")
	}
	if c.OpenedClass() != ClassChatAPI {
		t.Fatalf("expected reopened on %s, got %s", ClassChatAPI, c.OpenedClass())
	}
	if c.Allow(now.Add(1500 * time.Millisecond)) {
		t.Fatal("cooldown restarts on reopen")
	}
}

func TestCircuitBreaker_ClassesCountedSeparately(t *testing.T) {
	c := NewCircuitBreaker(2, time.Second)
	now := time.Now()
	c.RecordFailure(ClassTimeout, now)
	c.RecordFailure(ClassNetwork, now)
	if c.State() != CircuitClosed {
		t.Fatalf("mixed classes should not open, got %s", c.State())
	}
}

func TestPollBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, c := range cases {
		if got := PollBackoff(time.Second, c.attempt); got != c.want {
			t.Fatalf("attempt=%d got %s want %s", c.attempt, got, c.want)
		}
	}
	if got := PollBackoff(0, 1); got != time.Second {
		t.Fatalf("zero base should default to 1s, got %s", got)
	}
}

func TestClassifyPollError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.Canceled, ClassCancelled},
		{fmt.Errorf("poll: %w", context.DeadlineExceeded), ClassTimeout},
		{errors.New("telegram getUpdates request failed: dial tcp: connection refused"), ClassNetwork},
		{errors.New("telegram getUpdates failed code=401: Unauthorized"), ClassChatAPI},
	}
	for _, c := range cases {
		if got := ClassifyPollError(c.err); got != c.want {
			t.Fatalf("err=%v got %q want %q", c.err, got, c.want)
		}
	}
}
