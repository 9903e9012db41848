package session

import (
	"sync"
	"time"
)

// DefaultResumeDelay separates the end of an answer from the brief resuming.
const DefaultResumeDelay = 500 * time.Millisecond

// ResumeTimer is the wall-clock Timer used between an answer and the brief.
type ResumeTimer struct {
	delay time.Duration
	mu    sync.Mutex
	timer *time.Timer
}

func NewResumeTimer(delay time.Duration) *ResumeTimer {
	if delay <= 0 {
		delay = DefaultResumeDelay
	}
	return &ResumeTimer{delay: delay}
}

func (t *ResumeTimer) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		if t.timer != timer {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()

		fn()
	})
	t.timer = timer
}

func (t *ResumeTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
