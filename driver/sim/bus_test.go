package sim_test

import (
	"context"
	"math"
	"testing"
	"time"

	"example.com/cycle-timer/base/cycletimer"

	"example.com/cycle-timer/driver/sim"
)

func TestManualClock(t *testing.T) {
	b := sim.NewBus(sim.Config{Manual: true, InitialTicks: 1000})
	now, _ := b.NowUsecs()
	if now != 0 {
		t.Errorf("initial time: got %d, want 0", now)
	}
	b.Advance(1500 * time.Millisecond)
	now, _ = b.NowUsecs()
	if now != 1_500_000 {
		t.Errorf("time after advance: got %d, want 1500000", now)
	}
	ctr, at, err := b.ReadCycleTimerAt(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if at != now {
		t.Errorf("read timestamp: got %d, want %d", at, now)
	}
	want := uint32(1000 + cycletimer.TicksPerSecond*3/2)
	if got := cycletimer.Unpack(ctr); got != want {
		t.Errorf("ticks: got %d, want %d", got, want)
	}
}

func TestFrequencyError(t *testing.T) {
	b := sim.NewBus(sim.Config{Manual: true, FrequencyErrorPPM: 100})
	want := cycletimer.NominalRate * (1 + 100e-6)
	if math.Abs(b.Rate()-want) > 1e-12 {
		t.Errorf("rate: got %v, want %v", b.Rate(), want)
	}
}

func TestWrap(t *testing.T) {
	b := sim.NewBus(sim.Config{Manual: true, InitialTicks: cycletimer.WrapTicks - 10})
	b.Advance(time.Microsecond)
	ctr, err := b.ReadCycleTimer(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := cycletimer.Unpack(ctr); got != 14 {
		t.Errorf("ticks after wrap: got %d, want 14", got)
	}
}

func TestFailNext(t *testing.T) {
	b := sim.NewBus(sim.Config{Manual: true})
	b.FailNext(2)
	for i := 0; i < 2; i++ {
		if _, err := b.ReadCycleTimer(context.Background()); err == nil {
			t.Errorf("read %d: expected failure", i)
		}
	}
	if _, err := b.ReadCycleTimer(context.Background()); err != nil {
		t.Errorf("read after injected failures: %v", err)
	}
	reads, failed := b.Stats()
	if reads != 3 || failed != 2 {
		t.Errorf("stats: got (%d, %d), want (3, 2)", reads, failed)
	}
}

func TestCanceledRead(t *testing.T) {
	b := sim.NewBus(sim.Config{Manual: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ReadCycleTimer(ctx); err == nil {
		t.Errorf("read with canceled context must fail")
	}
}
