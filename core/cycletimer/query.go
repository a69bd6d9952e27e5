package cycletimer

import (
	"math"

	"example.com/cycle-timer/base/cycletimer"

	"example.com/cycle-timer/core/dll"
)

func (h *Helper) publish(s dll.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = s
	h.valid = true
}

// Snapshot returns a copy of the most recently published model.
func (h *Helper) Snapshot() (dll.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap, h.valid
}

// EstimateTicks returns the unwrapped tick count at host time nowUsecs.
// Estimates beyond the range of int64, which take host times centuries
// away from the model anchor, saturate at math.MinInt64 or math.MaxInt64.
func (h *Helper) EstimateTicks(nowUsecs uint64) (int64, error) {
	s, ok := h.Snapshot()
	if !ok {
		return 0, ErrNotBootstrapped
	}
	ticks := math.Floor(s.Ticks(float64(nowUsecs)))
	switch {
	case ticks >= 0x1p63:
		return math.MaxInt64, nil
	case ticks < -0x1p63:
		return math.MinInt64, nil
	}
	return int64(ticks), nil
}

// EstimateWrappedTicks returns the tick count at host time nowUsecs,
// reduced to the range of the register.
func (h *Helper) EstimateWrappedTicks(nowUsecs uint64) (uint32, error) {
	ticks, err := h.EstimateTicks(nowUsecs)
	if err != nil {
		return 0, err
	}
	return cycletimer.Wrap(ticks), nil
}

// EstimatePacked returns the register value at host time nowUsecs.
func (h *Helper) EstimatePacked(nowUsecs uint64) (uint32, error) {
	ticks, err := h.EstimateWrappedTicks(nowUsecs)
	if err != nil {
		return 0, err
	}
	return cycletimer.Pack(ticks), nil
}

// CycleTimerTicks returns the current tick count, reduced to the range of
// the register.
func (h *Helper) CycleTimerTicks() (uint32, error) {
	now, err := h.clk.NowUsecs()
	if err != nil {
		return 0, err
	}
	return h.EstimateWrappedTicks(now)
}

// CycleTimer returns the current register value.
func (h *Helper) CycleTimer() (uint32, error) {
	now, err := h.clk.NowUsecs()
	if err != nil {
		return 0, err
	}
	return h.EstimatePacked(now)
}

func (h *Helper) CurrentRate() float64 {
	s, ok := h.Snapshot()
	if !ok {
		return cycletimer.NominalRate
	}
	return s.Rate
}

func (h *Helper) NominalRate() float64 {
	return cycletimer.NominalRate
}
