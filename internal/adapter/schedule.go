package adapter

import (
	"context"
	"time"
)

// AfterDelay runs fn once the delay elapses, unless ctx is cancelled first.
// This is the reveal timer: cancelling the process silently drops the timer,
// and a persisted snapshot is what lets a restart pick the reveal back up.
func AfterDelay(ctx context.Context, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			fn()
		}
	}()
}

// DailyScheduler fires once per day at a fixed UTC wall-clock time. Selection
// of the daily question is deterministic, so independent adapter processes
// running their own schedulers still post the same question.
type DailyScheduler struct {
	hour   int
	minute int
	clock  func() time.Time
}

func NewDailyScheduler(hour, minute int) *DailyScheduler {
	return &DailyScheduler{hour: hour, minute: minute, clock: time.Now}
}

// Next returns the next fire time strictly after now.
func (s *DailyScheduler) Next(now time.Time) time.Time {
	now = now.UTC()
	fire := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}

// Run blocks, invoking post at each fire time until ctx is cancelled.
func (s *DailyScheduler) Run(ctx context.Context, post func(ctx context.Context)) {
	for {
		wait := time.Until(s.Next(s.clock()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			post(ctx)
		}
	}
}
