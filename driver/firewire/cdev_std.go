//go:build !linux

package firewire

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"example.com/cycle-timer/base/timebase"
)

var errUnsupported = errors.New("firewire character devices not supported on this platform")

type Device struct {
	log *zap.Logger
	dev string
}

var _ timebase.TimestampedCycleTimerSource = (*Device)(nil)

func NewDevice(log *zap.Logger, dev string) *Device {
	return &Device{log: log, dev: dev}
}

func (d *Device) Close() error {
	return nil
}

func (d *Device) ReadCycleTimerAt(ctx context.Context) (uint32, uint64, error) {
	return 0, 0, errUnsupported
}

func (d *Device) ReadCycleTimer(ctx context.Context) (uint32, error) {
	return 0, errUnsupported
}
