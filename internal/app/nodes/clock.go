package nodes

import (
	"context"
	"math"
	"time"
)

// Clock is the time source for suspensions and step timestamps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Suspend waits for d on clock or until ctx is done. Only the calling
// execution waits; it returns ErrCancelled when ctx ends first.
func Suspend(ctx context.Context, clock Clock, d time.Duration) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-clock.After(d):
		return nil
	}
}

// seconds converts to a Duration, saturating at the largest one.
func seconds(s float64) time.Duration {
	ns := s * float64(time.Second)
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}
