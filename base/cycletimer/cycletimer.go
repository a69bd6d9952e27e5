package cycletimer

// Reference: IEEE 1394-1995, 8.3.2.3.2 (CYCLE_TIME register)

const (
	OffsetBits  = 12
	CyclesBits  = 13
	SecondsBits = 7

	cyclesShift  = OffsetBits
	secondsShift = OffsetBits + CyclesBits

	offsetMask  = (1 << OffsetBits) - 1
	cyclesMask  = (1 << CyclesBits) - 1
	secondsMask = (1 << SecondsBits) - 1

	TicksPerCycle   = 3072
	CyclesPerSecond = 8000
	TicksPerSecond  = TicksPerCycle * CyclesPerSecond
	WrapSeconds     = 1 << SecondsBits
	WrapTicks       = WrapSeconds * TicksPerSecond

	// NominalRate is the bus clock rate in ticks per microsecond.
	NominalRate = float64(TicksPerSecond) / 1e6
)

func Seconds(ctr uint32) uint32 {
	return (ctr >> secondsShift) & secondsMask
}

func Cycles(ctr uint32) uint32 {
	return (ctr >> cyclesShift) & cyclesMask
}

func Offset(ctr uint32) uint32 {
	return ctr & offsetMask
}

// Valid reports whether the cycle and offset fields of ctr are in range.
// Every 7-bit seconds value is valid.
func Valid(ctr uint32) bool {
	return Cycles(ctr) < CyclesPerSecond && Offset(ctr) < TicksPerCycle
}

// Pack converts a tick count in [0, WrapTicks) to the register layout.
func Pack(ticks uint32) uint32 {
	if ticks >= WrapTicks {
		panic("tick value out of range")
	}
	secs := ticks / TicksPerSecond
	ticks %= TicksPerSecond
	cycles := ticks / TicksPerCycle
	offset := ticks % TicksPerCycle
	return secs<<secondsShift | cycles<<cyclesShift | offset
}

// Unpack converts a register value to a tick count in [0, WrapTicks).
func Unpack(ctr uint32) uint32 {
	if !Valid(ctr) {
		panic("invalid cycle timer value")
	}
	return Seconds(ctr)*TicksPerSecond + Cycles(ctr)*TicksPerCycle + Offset(ctr)
}

// Wrap reduces an unwrapped tick count to the register range.
func Wrap(ticks int64) uint32 {
	r := ticks % WrapTicks
	if r < 0 {
		r += WrapTicks
	}
	return uint32(r)
}

// Unwrap resolves the register value ctr to the unwrapped tick count
// closest to ref.
func Unwrap(ctr uint32, ref int64) int64 {
	base := ref - int64(Wrap(ref))
	x := base + int64(Unpack(ctr))
	d := x - ref
	if d > WrapTicks/2 {
		x -= WrapTicks
	} else if d < -WrapTicks/2 {
		x += WrapTicks
	}
	return x
}

// AddTicks adds a signed tick delta to a wrapped tick count.
func AddTicks(x uint32, d int64) uint32 {
	return Wrap(int64(x) + d)
}

// DiffTicks returns x - y for wrapped tick counts, in (-WrapTicks/2, WrapTicks/2].
func DiffTicks(x, y uint32) int64 {
	d := int64(x) - int64(y)
	if d > WrapTicks/2 {
		d -= WrapTicks
	} else if d <= -WrapTicks/2 {
		d += WrapTicks
	}
	return d
}
