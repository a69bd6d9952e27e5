package dll

// Second-order delay-locked loop tracking a free-running bus clock against
// the host clock. Loop structure after F. Adriaensen, "Using a DLL to filter
// time" (2005), with critically damped gains.

import (
	"math"
)

const (
	DefaultBandwidth        = 0.05 // Hz
	DefaultMaxRateDeviation = 1e-3

	// Upper bound for the loop coefficient ω = 2π·B·T. The loop is stable
	// for 4 - 4ω - ω² > 0, i.e. ω < 0.828.
	maxOmega     = 0.8
	defaultOmega = 0.4

	wakeupJitterGain = 0.05
)

type Result int

const (
	Rejected Result = iota
	Initialized
	Updated
)

func (r Result) String() string {
	switch r {
	case Rejected:
		return "rejected"
	case Initialized:
		return "initialized"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

type Rejection int

const (
	RejectNone Rejection = iota
	RejectTimeRegression
	RejectRateBound
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectTimeRegression:
		return "time regression"
	case RejectRateBound:
		return "rate out of bounds"
	default:
		return "unknown"
	}
}

type Config struct {
	// NominalRate is the nominal clock rate in ticks per microsecond.
	NominalRate float64
	// The update period may be given in either or both clock domains.
	PeriodUsecs uint32
	PeriodTicks uint32
	// Bandwidth of the loop in Hz, DefaultBandwidth if zero.
	Bandwidth float64
	// MaxRateDeviation bounds |rate - NominalRate| / NominalRate,
	// DefaultMaxRateDeviation if zero.
	MaxRateDeviation float64
}

// Snapshot is the part of the filter state needed for extrapolation.
type Snapshot struct {
	AnchorUsecs float64
	AnchorTicks float64
	Rate        float64
}

// Ticks extrapolates the unwrapped tick count at nowUsecs.
func (s Snapshot) Ticks(nowUsecs float64) float64 {
	return s.AnchorTicks + s.Rate*(nowUsecs-s.AnchorUsecs)
}

type Filter struct {
	anchorUsecs, anchorTicks       float64
	predictedUsecs, predictedTicks float64
	rate, nominalRate              float64
	e2                             float64
	periodUsecs, periodTicks       uint32
	bootstrapped                   bool
	wakeupJitter                   float32

	b, c, omega   float64
	maxDeviation  float64
	loopError     float64
	lastRejection Rejection
}

func NewFilter(cfg Config) (*Filter, error) {
	if !(cfg.NominalRate > 0) || math.IsInf(cfg.NominalRate, 0) {
		return nil, &ConfigError{Field: "nominal rate", Reason: "must be positive and finite"}
	}
	periodUsecs, periodTicks := cfg.PeriodUsecs, cfg.PeriodTicks
	switch {
	case periodUsecs == 0 && periodTicks == 0:
		return nil, &ConfigError{Field: "update period", Reason: "must not be zero"}
	case periodTicks == 0:
		t := math.Round(float64(periodUsecs) * cfg.NominalRate)
		if t > math.MaxUint32 {
			return nil, &ConfigError{Field: "update period", Reason: "out of range"}
		}
		periodTicks = uint32(t)
	case periodUsecs == 0:
		u := math.Round(float64(periodTicks) / cfg.NominalRate)
		if u < 1 || u > math.MaxUint32 {
			return nil, &ConfigError{Field: "update period", Reason: "out of range"}
		}
		periodUsecs = uint32(u)
	default:
		r := float64(periodTicks) / float64(periodUsecs)
		if math.Abs(r-cfg.NominalRate) > 0.01*cfg.NominalRate {
			return nil, &ConfigError{Field: "update period", Reason: "ticks and microseconds disagree"}
		}
	}
	if periodTicks == 0 {
		return nil, &ConfigError{Field: "update period", Reason: "must not be zero"}
	}

	periodSecs := float64(periodUsecs) / 1e6
	var omega float64
	switch {
	case cfg.Bandwidth < 0 || math.IsNaN(cfg.Bandwidth):
		return nil, &ConfigError{Field: "bandwidth", Reason: "must not be negative"}
	case cfg.Bandwidth == 0:
		omega = min(2*math.Pi*DefaultBandwidth*periodSecs, defaultOmega)
	default:
		omega = 2 * math.Pi * cfg.Bandwidth * periodSecs
		if omega >= maxOmega {
			return nil, &ConfigError{Field: "bandwidth", Reason: "too high for update period"}
		}
	}

	maxDeviation := cfg.MaxRateDeviation
	if maxDeviation == 0 {
		maxDeviation = DefaultMaxRateDeviation
	}
	if !(maxDeviation > 0 && maxDeviation < 1) {
		return nil, &ConfigError{Field: "max rate deviation", Reason: "must be in (0, 1)"}
	}

	return &Filter{
		nominalRate:  cfg.NominalRate,
		rate:         cfg.NominalRate,
		periodUsecs:  periodUsecs,
		periodTicks:  periodTicks,
		omega:        omega,
		b:            2 * omega,
		c:            omega * omega,
		maxDeviation: maxDeviation,
	}, nil
}

// ApplySample feeds the unwrapped tick count sampleTicks observed at host
// time sampleUsecs into the loop. On rejection the state is left unchanged.
func (f *Filter) ApplySample(sampleUsecs, sampleTicks float64) Result {
	if !f.bootstrapped {
		f.anchorUsecs = sampleUsecs
		f.anchorTicks = sampleTicks
		f.predictedUsecs = sampleUsecs
		f.predictedTicks = sampleTicks
		f.rate = f.nominalRate
		f.e2 = f.nominalRate * float64(f.periodUsecs)
		f.loopError = 0
		f.lastRejection = RejectNone
		f.bootstrapped = true
		return Initialized
	}

	if !(sampleUsecs > f.anchorUsecs) {
		f.lastRejection = RejectTimeRegression
		return Rejected
	}

	period := float64(f.periodUsecs)
	dt := sampleUsecs - f.anchorUsecs
	predicted := f.anchorTicks + f.rate*dt
	err := sampleTicks - predicted
	e2 := f.e2 + f.c*err*period/dt
	rate := e2 / period
	if !(math.Abs(rate-f.nominalRate) <= f.maxDeviation*f.nominalRate) {
		f.lastRejection = RejectRateBound
		return Rejected
	}

	f.anchorUsecs = sampleUsecs
	f.anchorTicks = predicted + f.b*err
	f.e2 = e2
	f.rate = rate
	f.predictedUsecs = sampleUsecs + period
	f.predictedTicks = f.anchorTicks + rate*period
	f.loopError = err
	f.lastRejection = RejectNone
	return Updated
}

// ObserveWakeup records how late the sampling task woke up relative to
// its requested wakeup time.
func (f *Filter) ObserveWakeup(delayUsecs float64) {
	if math.IsNaN(delayUsecs) {
		return
	}
	d := min(max(delayUsecs, 0), float64(f.periodUsecs))
	f.wakeupJitter += float32(wakeupJitterGain * (d - float64(f.wakeupJitter)))
}

// Reset drops the filter back to its unbootstrapped state.
func (f *Filter) Reset() {
	f.anchorUsecs, f.anchorTicks = 0, 0
	f.predictedUsecs, f.predictedTicks = 0, 0
	f.rate = f.nominalRate
	f.e2 = 0
	f.loopError = 0
	f.lastRejection = RejectNone
	f.bootstrapped = false
}

func (f *Filter) Snapshot() (Snapshot, bool) {
	if !f.bootstrapped {
		return Snapshot{}, false
	}
	return Snapshot{
		AnchorUsecs: f.anchorUsecs,
		AnchorTicks: f.anchorTicks,
		Rate:        f.rate,
	}, true
}

func (f *Filter) Bootstrapped() bool           { return f.bootstrapped }
func (f *Filter) Rate() float64                { return f.rate }
func (f *Filter) NominalRate() float64         { return f.nominalRate }
func (f *Filter) AnchorUsecs() float64         { return f.anchorUsecs }
func (f *Filter) AnchorTicks() float64         { return f.anchorTicks }
func (f *Filter) PredictedUsecs() float64      { return f.predictedUsecs }
func (f *Filter) PredictedTicks() float64      { return f.predictedTicks }
func (f *Filter) Integrator() float64          { return f.e2 }
func (f *Filter) LoopError() float64           { return f.loopError }
func (f *Filter) LastRejection() Rejection     { return f.lastRejection }
func (f *Filter) PeriodUsecs() uint32          { return f.periodUsecs }
func (f *Filter) PeriodTicks() uint32          { return f.periodTicks }
func (f *Filter) WakeupJitter() float32        { return f.wakeupJitter }
func (f *Filter) Coefficients() (b, c float64) { return f.b, f.c }
