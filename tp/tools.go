package tp

import "time"

// Timer tracks a deadline against an externally supplied clock.
type Timer struct {
	deadline time.Time
	running  bool
}

func (t *Timer) Start(now time.Time, timeout time.Duration) {
	t.deadline = now.Add(timeout)
	t.running = true
}

func (t *Timer) Stop() {
	t.running = false
	t.deadline = time.Time{}
}

func (t *Timer) IsStopped() bool {
	return !t.running
}

// IsTimedOut reports whether the deadline has passed at now.
func (t *Timer) IsTimedOut(now time.Time) bool {
	return t.running && now.After(t.deadline)
}

func (t *Timer) Remaining(now time.Time) time.Duration {
	if !t.running {
		return 0
	}
	if d := t.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
