package cycletimer_test

import (
	"testing"

	"example.com/cycle-timer/base/cycletimer"
)

func TestPack(t *testing.T) {
	tests := []struct {
		ticks uint32
		want  uint32
	}{
		{0, 0},
		{1, 1},
		{3071, 3071},
		{3072, 1 << 12},
		{3073, 1<<12 | 1},
		{cycletimer.TicksPerSecond - 1, 7999<<12 | 3071},
		{cycletimer.TicksPerSecond, 1 << 25},
		{cycletimer.WrapTicks - 1, 127<<25 | 7999<<12 | 3071},
	}

	for _, tt := range tests {
		got := cycletimer.Pack(tt.ticks)
		if got != tt.want {
			t.Errorf("cycletimer.Pack(%d) = %#08x, want %#08x", tt.ticks, got, tt.want)
		}
		if cycletimer.Unpack(got) != tt.ticks {
			t.Errorf("cycletimer.Unpack(%#08x) = %d, want %d", got, cycletimer.Unpack(got), tt.ticks)
		}
	}
}

func TestFields(t *testing.T) {
	ctr := cycletimer.Pack(5*cycletimer.TicksPerSecond + 123*cycletimer.TicksPerCycle + 456)
	if s := cycletimer.Seconds(ctr); s != 5 {
		t.Errorf("seconds: got %d, want 5", s)
	}
	if c := cycletimer.Cycles(ctr); c != 123 {
		t.Errorf("cycles: got %d, want 123", c)
	}
	if o := cycletimer.Offset(ctr); o != 456 {
		t.Errorf("offset: got %d, want 456", o)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	const step = 7919 * 13
	for x := uint64(0); x < cycletimer.WrapTicks; x += step {
		ticks := uint32(x)
		if got := cycletimer.Unpack(cycletimer.Pack(ticks)); got != ticks {
			t.Fatalf("cycletimer.Unpack(cycletimer.Pack(%d)) = %d", ticks, got)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		ctr  uint32
		want bool
	}{
		{0, true},
		{127<<25 | 7999<<12 | 3071, true},
		{8000 << 12, false},
		{3072, false},
		{0xffffffff, false},
	}

	for _, tt := range tests {
		if got := cycletimer.Valid(tt.ctr); got != tt.want {
			t.Errorf("cycletimer.Valid(%#08x) = %v, want %v", tt.ctr, got, tt.want)
		}
	}
}

func TestUnpackInvalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("cycletimer.Unpack of invalid value did not panic")
		}
	}()
	cycletimer.Unpack(8000 << 12)
}

func TestPackOutOfRange(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("cycletimer.Pack of out of range value did not panic")
		}
	}()
	cycletimer.Pack(cycletimer.WrapTicks)
}

func TestWrap(t *testing.T) {
	tests := []struct {
		ticks int64
		want  uint32
	}{
		{0, 0},
		{1, 1},
		{cycletimer.WrapTicks, 0},
		{cycletimer.WrapTicks + 5, 5},
		{-1, cycletimer.WrapTicks - 1},
		{-cycletimer.WrapTicks, 0},
		{3*cycletimer.WrapTicks + 42, 42},
	}

	for _, tt := range tests {
		if got := cycletimer.Wrap(tt.ticks); got != tt.want {
			t.Errorf("cycletimer.Wrap(%d) = %d, want %d", tt.ticks, got, tt.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	const w = int64(cycletimer.WrapTicks)
	tests := []struct {
		name string
		ref  int64
		raw  uint32
		want int64
	}{
		{"Forward", 5*w + 100, 200, 5*w + 200},
		{"Same", 5*w + 100, 100, 5*w + 100},
		{"AcrossWrap", 3*w - 1000, 4000, 3*w + 4000},
		{"ExactlyAtWrap", 3*w - 1000, 0, 3 * w},
		{"Backward", 3*w + 100, uint32(w - 50), 3*w - 50},
		{"NegativeReference", -100, uint32(w - 50), -50},
		{"LargeForward", 100, uint32(w/2 - 1000), w/2 - 1000},
		{"FirstWrap", 0, 24_576_000, 24_576_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cycletimer.Unwrap(cycletimer.Pack(tt.raw), tt.ref)
			if got != tt.want {
				t.Errorf("cycletimer.Unwrap(%d, %d) = %d, want %d", tt.raw, tt.ref, got, tt.want)
			}
		})
	}
}

func TestUnwrapForwardAdvance(t *testing.T) {
	const w = int64(cycletimer.WrapTicks)
	prev := 7*w - 3*cycletimer.TicksPerSecond
	for _, adv := range []int64{0, 1, cycletimer.TicksPerSecond, 3 * cycletimer.TicksPerSecond, w/2 - 1} {
		want := prev + adv
		got := cycletimer.Unwrap(cycletimer.Pack(cycletimer.Wrap(want)), prev)
		if got != want {
			t.Errorf("advance %d: got %d, want %d", adv, got, want)
		}
	}
}

func TestAddDiffTicks(t *testing.T) {
	const w = cycletimer.WrapTicks
	if got := cycletimer.AddTicks(w-10, 20); got != 10 {
		t.Errorf("cycletimer.AddTicks(w-10, 20) = %d, want 10", got)
	}
	if got := cycletimer.AddTicks(10, -20); got != w-10 {
		t.Errorf("cycletimer.AddTicks(10, -20) = %d, want %d", got, uint32(w-10))
	}
	if got := cycletimer.DiffTicks(10, w-10); got != 20 {
		t.Errorf("cycletimer.DiffTicks(10, w-10) = %d, want 20", got)
	}
	if got := cycletimer.DiffTicks(w-10, 10); got != -20 {
		t.Errorf("cycletimer.DiffTicks(w-10, 10) = %d, want -20", got)
	}
	if got := cycletimer.DiffTicks(500, 200); got != 300 {
		t.Errorf("cycletimer.DiffTicks(500, 200) = %d, want 300", got)
	}
}
