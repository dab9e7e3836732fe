package scheduler

import (
	"context"
	"time"
)

// Expirer refunds escrow holds whose expiry has passed.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// EscrowSweep returns the task that refunds expired escrow holds on every
// interval. Each run handles at most one batch; the remainder waits for the
// next run.
func EscrowSweep(e Expirer, interval, timeout time.Duration) *Task {
	return &Task{
		Name:     "escrow-expiry-sweep",
		Interval: interval,
		Timeout:  timeout,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := e.ExpireDue(ctx, now)
			return err
		},
	}
}
