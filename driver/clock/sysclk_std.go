//go:build !linux

package clock

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"example.com/cycle-timer/base/timebase"
)

var (
	errUnsupported = errors.New("real-time scheduling not supported on this platform")

	epoch = time.Now()
)

type MonotonicClock struct {
	Log *zap.Logger
}

var _ timebase.WallClock = (*MonotonicClock)(nil)

func (c *MonotonicClock) NowUsecs() (uint64, error) {
	return uint64(time.Since(epoch) / time.Microsecond), nil
}

type Scheduler struct {
	Log *zap.Logger
}

var _ timebase.ThreadScheduler = (*Scheduler)(nil)

func (s *Scheduler) SetRealtimePriority(priority int) error {
	s.Log.Debug("Scheduler.SetRealtimePriority, not supported", zap.Int("priority", priority))
	return errUnsupported
}

func (s *Scheduler) SetDefaultPriority() error {
	return nil
}
