package download

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/myplayer/myplayer-go/internal/errors"
)

// Default throttle settings
const (
	DefaultThrottleThreshold = 3
	DefaultThrottleWindow    = 2 * time.Minute
	DefaultThrottleCooldown  = 5 * time.Minute
)

// Throttle pauses all dequeuing after repeated rate-limit failures.
// It is cooperative: jobs already running are not interrupted.
type Throttle struct {
	mu          sync.Mutex
	threshold   int
	window      time.Duration
	cooldown    time.Duration
	recent      int
	lastFailure time.Time
	pauseUntil  time.Time
	now         func() time.Time
}

// NewThrottle creates a throttle. Non-positive values fall back to defaults.
func NewThrottle(threshold int, window, cooldown time.Duration) *Throttle {
	if threshold <= 0 {
		threshold = DefaultThrottleThreshold
	}
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	if cooldown <= 0 {
		cooldown = DefaultThrottleCooldown
	}
	return &Throttle{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (t *Throttle) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// ShouldPause reports whether the cooldown is still running
func (t *Throttle) ShouldPause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.pauseUntil)
}

// PauseUntil returns the end of the current or last cooldown
func (t *Throttle) PauseUntil() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauseUntil
}

// Observe feeds a job outcome into the throttle and reports whether it tripped.
// Only rate-limit failures count; any success resets the streak.
func (t *Throttle) Observe(ok bool, errType apperrors.ErrorType) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok {
		t.recent = 0
		return false
	}
	if errType != apperrors.ErrTypeRateLimit {
		return false
	}

	now := t.now()
	if !t.lastFailure.IsZero() && now.Sub(t.lastFailure) > t.window {
		t.recent = 0
	}
	t.recent++
	t.lastFailure = now

	if t.recent < t.threshold {
		return false
	}
	t.recent = 0
	t.pauseUntil = now.Add(t.cooldown)
	return true
}

// Reason describes the current pause for users
func (t *Throttle) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("Downloads paused after %d rate-limit failures; resuming at %s",
		t.threshold, t.pauseUntil.Format("15:04:05"))
}
