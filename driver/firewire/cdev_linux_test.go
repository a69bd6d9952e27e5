//go:build linux

package firewire

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestIoctlRequest(t *testing.T) {
	// _IOWR('#', 0x14, struct fw_cdev_get_cycle_timer2)
	const want = 0xc0182314
	if got := ioctlRequest(ioctlRead|ioctlWrite, cycleTimer2Len, '#', 0x14); got != want {
		t.Errorf("ioctlRequest: got %#x, want %#x", got, uint(want))
	}
}

func TestMissingDevice(t *testing.T) {
	d := NewDevice(zap.NewNop(), "/dev/nonexistent-fw")
	defer d.Close()
	if _, err := d.ReadCycleTimer(context.Background()); err == nil {
		t.Errorf("read from missing device must fail")
	}
}
