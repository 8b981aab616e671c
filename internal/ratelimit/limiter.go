package ratelimit

import (
	"context"
	"time"
)

// Pacer spaces consecutive sends to protect the relay from bursts.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay pauses for the same interval before every send after the first.
type FixedDelay struct {
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ Pacer = (*FixedDelay)(nil)

func NewFixedDelay(interval time.Duration) *FixedDelay {
	return newFixedDelay(interval, sleepWithContext)
}

func newFixedDelay(interval time.Duration, sleepFn func(ctx context.Context, d time.Duration) error) *FixedDelay {
	if interval < 0 {
		interval = 0
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &FixedDelay{interval: interval, sleep: sleepFn}
}

func (p *FixedDelay) Interval() time.Duration { return p.interval }

// Wait blocks for the configured interval or until ctx is done.
func (p *FixedDelay) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, p.interval)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
