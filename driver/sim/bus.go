package sim

// Simulated bus whose cycle timer runs at a slightly wrong rate relative to
// the host clock.

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"example.com/cycle-timer/base/cycletimer"
	"example.com/cycle-timer/base/timebase"
	"example.com/cycle-timer/base/timemath"
)

var errInjected = errors.New("simulated cycle timer read failure")

type Config struct {
	// FrequencyErrorPPM is the deviation of the bus clock from its nominal
	// rate in parts per million.
	FrequencyErrorPPM float64
	// InitialTicks is the unwrapped tick count at host time zero.
	InitialTicks uint64
	// ReadLatency is the maximum delay between the host clock sample and
	// the register sample of a read.
	ReadLatency time.Duration
	// FailureRate is the probability of a read failing.
	FailureRate float64
	Seed        int64
	// Manual selects a virtual host clock advanced with Advance.
	Manual bool
}

type Bus struct {
	mu        sync.Mutex
	cfg       Config
	rate      float64
	rnd       *rand.Rand
	start     time.Time
	nowUsecs  uint64
	failNext  int
	numReads  int
	numFailed int
}

var (
	_ timebase.WallClock                   = (*Bus)(nil)
	_ timebase.TimestampedCycleTimerSource = (*Bus)(nil)
)

func NewBus(cfg Config) *Bus {
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		panic("invalid failure rate")
	}
	if cfg.ReadLatency < 0 {
		panic("invalid read latency")
	}
	return &Bus{
		cfg:   cfg,
		rate:  cycletimer.NominalRate * (1 + cfg.FrequencyErrorPPM*1e-6),
		rnd:   rand.New(rand.NewSource(cfg.Seed)),
		start: time.Now(),
	}
}

func (b *Bus) now() uint64 {
	if b.cfg.Manual {
		return b.nowUsecs
	}
	return uint64(time.Since(b.start) / time.Microsecond)
}

func (b *Bus) NowUsecs() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now(), nil
}

// Advance moves the virtual host clock forward.
func (b *Bus) Advance(d time.Duration) {
	if d < 0 {
		panic("invalid duration value")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cfg.Manual {
		panic("bus does not use a virtual clock")
	}
	b.nowUsecs += uint64(d / time.Microsecond)
}

// FailNext makes the next n reads fail.
func (b *Bus) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// Rate returns the true bus clock rate in ticks per microsecond.
func (b *Bus) Rate() float64 {
	return b.rate
}

// Ticks returns the true unwrapped tick count at host time usecs.
func (b *Bus) Ticks(usecs uint64) float64 {
	return float64(b.cfg.InitialTicks) + b.rate*float64(usecs)
}

func (b *Bus) Stats() (numReads, numFailed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numReads, b.numFailed
}

func (b *Bus) ReadCycleTimerAt(ctx context.Context) (uint32, uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numReads++
	if b.failNext > 0 {
		b.failNext--
		b.numFailed++
		return 0, 0, errInjected
	}
	if b.cfg.FailureRate != 0 && b.rnd.Float64() < b.cfg.FailureRate {
		b.numFailed++
		return 0, 0, errInjected
	}
	now := b.now()
	latency := b.rnd.Float64() * timemath.Usecs(b.cfg.ReadLatency)
	ticks := int64(math.Floor(b.Ticks(now) + b.rate*latency))
	return cycletimer.Pack(cycletimer.Wrap(ticks)), now, nil
}

func (b *Bus) ReadCycleTimer(ctx context.Context) (uint32, error) {
	ctr, _, err := b.ReadCycleTimerAt(ctx)
	return ctr, err
}
