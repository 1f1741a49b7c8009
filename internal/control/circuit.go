// Package control keeps the poll loop from hammering a failing chat API.
package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker opens after Threshold consecutive failures of one class and
// lets a single probe through once Cooldown has passed.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow reports whether a poll may be attempted at now. An open breaker turns
// half-open once the cooldown has elapsed.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RecordSuccess closes the breaker. It reports whether the breaker was
// previously not closed, i.e. the call was a recovery.
func (c *CircuitBreaker) RecordSuccess() bool {
	recovered := c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	clear(c.failures)
	return recovered
}

// RecordFailure counts a failure of errClass. It reports whether this call
// opened the breaker.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) bool {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.open(errClass, now)
		return true
	}
	if c.state == CircuitOpen {
		return false
	}
	c.failures[errClass]++
	if c.failures[errClass] >= c.Threshold {
		c.open(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}

// Failures is the current count for errClass.
func (c *CircuitBreaker) Failures(errClass string) int {
	return c.failures[errClass]
}

func (c *CircuitBreaker) open(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}
