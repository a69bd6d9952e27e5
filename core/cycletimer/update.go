package cycletimer

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"example.com/cycle-timer/base/cycletimer"
	"example.com/cycle-timer/base/timebase"

	"example.com/cycle-timer/core/dll"
)

func (h *Helper) readSample(ctx context.Context) (ctr uint32, nowUsecs uint64, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ReadTimeout)
	defer cancel()
	if src, ok := h.src.(timebase.TimestampedCycleTimerSource); ok {
		return src.ReadCycleTimerAt(ctx)
	}
	nowUsecs, err = h.clk.NowUsecs()
	if err != nil {
		return 0, 0, err
	}
	ctr, err = h.src.ReadCycleTimer(ctx)
	if err != nil {
		return 0, 0, err
	}
	return ctr, nowUsecs, nil
}

func (h *Helper) readFailed(err error) {
	h.numFailures++
	dllMetrics.readFailures.WithLabelValues(h.cfg.Name).Inc()
	if h.numFailures >= h.cfg.FailureEscalation {
		h.log.Error("failed to read cycle timer, skipping update",
			zap.Int("consecutive failures", h.numFailures), zap.Error(err))
	} else {
		h.log.Warn("failed to read cycle timer, skipping update",
			zap.Int("consecutive failures", h.numFailures), zap.Error(err))
	}
}

// reference returns the unwrapped tick count expected at nowUsecs, or the
// register value itself if no model exists yet.
func (h *Helper) reference(ctr uint32, nowUsecs uint64) int64 {
	if s, ok := h.filter.Snapshot(); ok {
		return int64(math.Round(s.Ticks(float64(nowUsecs))))
	}
	if s, ok := h.Snapshot(); ok {
		return int64(math.Round(s.Ticks(float64(nowUsecs))))
	}
	return int64(cycletimer.Unpack(ctr))
}

// update runs a single update cycle and returns the time to sleep until
// the next one.
func (h *Helper) update(ctx context.Context) time.Duration {
	period := time.Duration(h.filter.PeriodUsecs()) * time.Microsecond

	if h.wakeupUsecs != 0 {
		now, err := h.clk.NowUsecs()
		if err == nil {
			h.filter.ObserveWakeup(float64(now) - float64(h.wakeupUsecs))
			dllMetrics.wakeupJitter.WithLabelValues(h.cfg.Name).Set(float64(h.filter.WakeupJitter()))
		}
	}

	ctr, nowUsecs, err := h.readSample(ctx)
	if err == nil && !cycletimer.Valid(ctr) {
		err = errInvalidCycleTimer
	}
	if err != nil {
		if ctx.Err() != nil {
			// abandoned
			return period
		}
		h.readFailed(err)
		now, err := h.clk.NowUsecs()
		if err != nil {
			return period
		}
		return h.sleepDuration(now)
	}
	h.numFailures = 0

	ticks := cycletimer.Unwrap(ctr, h.reference(ctr, nowUsecs))
	r := h.filter.ApplySample(float64(nowUsecs), float64(ticks))
	switch r {
	case dll.Initialized, dll.Updated:
		h.numRejections = 0
		s, _ := h.filter.Snapshot()
		h.publish(s)
		dllMetrics.updates.WithLabelValues(h.cfg.Name).Inc()
		dllMetrics.rate.WithLabelValues(h.cfg.Name).Set(s.Rate)
		dllMetrics.loopError.WithLabelValues(h.cfg.Name).Set(h.filter.LoopError())
		if r == dll.Initialized {
			h.log.Info("cycle timer model initialized",
				zap.Uint64("usecs", nowUsecs),
				zap.Int64("ticks", ticks),
			)
		}
		h.log.Debug("DLL iteration",
			zap.Stringer("result", r),
			zap.Uint64("usecs", nowUsecs),
			zap.Uint32("ctr", ctr),
			zap.Int64("ticks", ticks),
			zap.Float64("err", h.filter.LoopError()),
			zap.Float64("rate", s.Rate),
			zap.Float64("e2", h.filter.Integrator()),
			zap.Float32("wakeup jitter", h.filter.WakeupJitter()),
		)
	case dll.Rejected:
		h.numRejections++
		dllMetrics.rejections.WithLabelValues(h.cfg.Name, h.filter.LastRejection().String()).Inc()
		h.log.Info("rejected cycle timer sample",
			zap.Stringer("reason", h.filter.LastRejection()),
			zap.Uint64("usecs", nowUsecs),
			zap.Int64("ticks", ticks),
			zap.Int("consecutive rejections", h.numRejections),
		)
		if h.numRejections >= h.cfg.ResyncThreshold {
			h.log.Warn("too many rejected samples, resynchronizing",
				zap.Int("consecutive rejections", h.numRejections))
			h.filter.Reset()
			h.numRejections = 0
			dllMetrics.resyncs.WithLabelValues(h.cfg.Name).Inc()
		}
	default:
		panic("unexpected DLL result")
	}

	return h.sleepDuration(nowUsecs)
}
