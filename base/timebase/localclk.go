package timebase

import (
	"context"
)

// WallClock is a monotonic host time source in microseconds.
// It must not roll back.
type WallClock interface {
	NowUsecs() (uint64, error)
}

// CycleTimerSource reads the raw cycle timer register of a bus.
type CycleTimerSource interface {
	ReadCycleTimer(ctx context.Context) (uint32, error)
}

// ThreadScheduler applies real-time scheduling to the calling OS thread.
type ThreadScheduler interface {
	SetRealtimePriority(priority int) error
	SetDefaultPriority() error
}

// TimestampedCycleTimerSource is implemented by sources that sample the
// host clock together with the register. The timestamp is in the domain
// of the WallClock used alongside the source.
type TimestampedCycleTimerSource interface {
	CycleTimerSource
	ReadCycleTimerAt(ctx context.Context) (ctr uint32, usecs uint64, err error)
}
