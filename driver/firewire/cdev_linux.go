//go:build linux

package firewire

// References:
// https://github.com/torvalds/linux/blob/master/include/uapi/linux/firewire-cdev.h
// https://man7.org/linux/man-pages/man2/ioctl.2.html#NOTES

import (
	"unsafe"

	"context"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"golang.org/x/sys/unix"

	"example.com/cycle-timer/base/timebase"
)

const (
	ioctlWrite = 1
	ioctlRead  = 2

	ioctlDirBits  = 2
	ioctlSizeBits = 14
	ioctlTypeBits = 8
	ioctlSNBits   = 8

	ioctlDirMask  = (1 << ioctlDirBits) - 1
	ioctlSizeMask = (1 << ioctlSizeBits) - 1
	ioctlTypeMask = (1 << ioctlTypeBits) - 1
	ioctlSNMask   = (1 << ioctlSNBits) - 1

	ioctlSNShift   = 0
	ioctlTypeShift = ioctlSNShift + ioctlSNBits
	ioctlSizeShift = ioctlTypeShift + ioctlTypeBits
	ioctlDirShift  = ioctlSizeShift + ioctlSizeBits

	// struct fw_cdev_get_cycle_timer2
	cycleTimer2Len = 8 + 4 + 4 + 4 + 4 /* padding */
)

type Device struct {
	log *zap.Logger
	dev string

	mu sync.Mutex
	fd int
}

var _ timebase.TimestampedCycleTimerSource = (*Device)(nil)

func ioctlRequest(d, s, t, n int) uint {
	return (uint(d&ioctlDirMask) << ioctlDirShift) |
		(uint(s&ioctlSizeMask) << ioctlSizeShift) |
		(uint(t&ioctlTypeMask) << ioctlTypeShift) |
		(uint(n&ioctlSNMask) << ioctlSNShift)
}

func NewDevice(log *zap.Logger, dev string) *Device {
	return &Device{log: log, dev: dev, fd: -1}
}

func (d *Device) open() error {
	if d.fd >= 0 {
		return nil
	}
	fd, err := unix.Open(d.dev, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		d.log.Error("unix.Open failed", zap.String("dev", d.dev), zap.Error(err))
		return err
	}
	d.fd = fd
	return nil
}

func (d *Device) closeLocked() {
	if d.fd < 0 {
		return
	}
	err := unix.Close(d.fd)
	if err != nil {
		d.log.Info("unix.Close failed", zap.String("dev", d.dev), zap.Error(err))
	}
	d.fd = -1
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	return nil
}

// ReadCycleTimerAt reads the cycle timer register of the local node
// together with CLOCK_MONOTONIC in microseconds, sampled by the kernel.
func (d *Device) ReadCycleTimerAt(ctx context.Context) (uint32, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.open()
	if err != nil {
		return 0, 0, err
	}

	data := make([]byte, cycleTimer2Len)
	binary.LittleEndian.PutUint32(data[12:], uint32(unix.CLOCK_MONOTONIC))

	// FW_CDEV_IOC_GET_CYCLE_TIMER2
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(ioctlRequest(ioctlRead|ioctlWrite, len(data), '#', 0x14)),
		uintptr(unsafe.Pointer(&data[0])))
	if errno != 0 {
		d.log.Error("ioctl failed (cycle timer)", zap.String("dev", d.dev), zap.Error(errno))
		// The node may have gone away after a bus reset.
		d.closeLocked()
		return 0, 0, errno
	}

	sec := int64(binary.LittleEndian.Uint64(data[0:]))
	nsec := int32(binary.LittleEndian.Uint32(data[8:]))
	ctr := binary.LittleEndian.Uint32(data[16:])
	if sec < 0 || nsec < 0 {
		panic("unexpected kernel timestamp")
	}
	usecs := uint64(sec)*1e6 + uint64(nsec)/1e3

	d.log.Debug("cycle timer sample",
		zap.String("dev", d.dev),
		zap.Uint32("ctr", ctr),
		zap.Uint64("usecs", usecs),
	)

	return ctr, usecs, nil
}

func (d *Device) ReadCycleTimer(ctx context.Context) (uint32, error) {
	ctr, _, err := d.ReadCycleTimerAt(ctx)
	return ctr, err
}
