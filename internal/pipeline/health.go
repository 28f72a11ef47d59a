package pipeline

import (
	"sync"
	"time"
)

// LoopHealth tracks per-loop failure streaks and the last successful
// iteration. It is ephemeral state, reset on process restart.
type LoopHealth struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastSuccess         time.Time
}

// Success resets the failure streak and stamps the last success time.
func (h *LoopHealth) Success() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastSuccess = time.Now()
}

// Failure increments and returns the consecutive failure count.
func (h *LoopHealth) Failure() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	return h.consecutiveFailures
}

// Reset clears the failure streak without recording a success.
func (h *LoopHealth) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
}

// ConsecutiveFailures returns the current failure streak.
func (h *LoopHealth) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// LastSuccess returns the time of the last successful iteration, zero if none.
func (h *LoopHealth) LastSuccess() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSuccess
}
