//go:build linux

package clock

import (
	"errors"
	"unsafe"

	"go.uber.org/zap"

	"golang.org/x/sys/unix"

	"example.com/cycle-timer/base/timebase"
)

const (
	// See sched(7)
	schedOther = 0
	schedFIFO  = 1
)

var errInvalidPriority = errors.New("invalid real-time priority")

type MonotonicClock struct {
	Log *zap.Logger
}

var _ timebase.WallClock = (*MonotonicClock)(nil)

func (c *MonotonicClock) NowUsecs() (uint64, error) {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	if err != nil {
		c.Log.Error("unix.ClockGettime failed", zap.Error(err))
		return 0, err
	}
	return uint64(ts.Sec)*1e6 + uint64(ts.Nsec)/1e3, nil
}

type Scheduler struct {
	Log *zap.Logger
}

var _ timebase.ThreadScheduler = (*Scheduler)(nil)

type schedParam struct {
	priority int32
}

func priorityRange(policy int) (int, int, error) {
	lo, _, errno := unix.RawSyscall(unix.SYS_SCHED_GET_PRIORITY_MIN, uintptr(policy), 0, 0)
	if errno != 0 {
		return 0, 0, errno
	}
	hi, _, errno := unix.RawSyscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(policy), 0, 0)
	if errno != 0 {
		return 0, 0, errno
	}
	return int(lo), int(hi), nil
}

// setScheduler applies to the calling thread only; callers must be locked
// to their OS thread.
func setScheduler(policy, priority int) error {
	p := schedParam{priority: int32(priority)}
	_, _, errno := unix.RawSyscall(unix.SYS_SCHED_SETSCHEDULER,
		0 /* calling thread */, uintptr(policy), uintptr(unsafe.Pointer(&p)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (s *Scheduler) SetRealtimePriority(priority int) error {
	lo, hi, err := priorityRange(schedFIFO)
	if err != nil {
		s.Log.Error("sched_get_priority_{min,max} failed", zap.Error(err))
		return err
	}
	if priority < lo || priority > hi {
		s.Log.Error("real-time priority out of range",
			zap.Int("priority", priority), zap.Int("min", lo), zap.Int("max", hi))
		return errInvalidPriority
	}
	s.Log.Debug("setting real-time priority", zap.Int("priority", priority))
	err = setScheduler(schedFIFO, priority)
	if err != nil {
		s.Log.Error("sched_setscheduler failed", zap.Int("priority", priority), zap.Error(err))
	}
	return err
}

func (s *Scheduler) SetDefaultPriority() error {
	s.Log.Debug("setting default priority")
	err := setScheduler(schedOther, 0)
	if err != nil {
		s.Log.Error("sched_setscheduler failed", zap.Error(err))
	}
	return err
}
