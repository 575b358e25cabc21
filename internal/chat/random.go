package chat

import (
	"context"
	"math/rand/v2"
	"time"
)

// Rand is the randomness source for decoration and pacing. Implementations
// must be safe for concurrent use.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// globalRand uses the math/rand/v2 top-level functions, which are safe for
// concurrent use.
type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pick(r Rand, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[r.IntN(len(items))]
}
