package cycletimer

// Tracks the cycle timer register of a bus with a DLL so that the register
// value at any host time can be computed without a device access.

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/cycle-timer/base/cycletimer"
	"example.com/cycle-timer/base/metrics"
	"example.com/cycle-timer/base/timebase"
	"example.com/cycle-timer/base/timemath"

	"example.com/cycle-timer/core/dll"
)

const (
	DefaultUpdatePeriod = 1 * time.Second
	DefaultReadTimeout  = 100 * time.Millisecond

	defaultFailureEscalation = 3
	defaultResyncThreshold   = 8
)

type Config struct {
	// Name identifies the tracked bus in logs and metrics.
	Name string

	// The update period may be given in either or both clock domains.
	UpdatePeriod      time.Duration
	UpdatePeriodTicks uint32

	Bandwidth        float64
	MaxRateDeviation float64

	// ReadTimeout bounds a single register read.
	ReadTimeout time.Duration

	Realtime  bool
	Priority  int
	Scheduler timebase.ThreadScheduler

	// FailureEscalation is the number of consecutive read failures after
	// which failures are logged as errors.
	FailureEscalation int
	// ResyncThreshold is the number of consecutive rejected samples after
	// which the filter is re-bootstrapped.
	ResyncThreshold int
}

var (
	dllMetrics = struct {
		rate         *prometheus.GaugeVec
		wakeupJitter *prometheus.GaugeVec
		loopError    *prometheus.GaugeVec
		updates      *prometheus.CounterVec
		rejections   *prometheus.CounterVec
		readFailures *prometheus.CounterVec
		resyncs      *prometheus.CounterVec
	}{
		rate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.DLLRateN,
			Help: metrics.DLLRateH,
		}, []string{"bus"}),
		wakeupJitter: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.DLLWakeupJitterN,
			Help: metrics.DLLWakeupJitterH,
		}, []string{"bus"}),
		loopError: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.DLLLoopErrorN,
			Help: metrics.DLLLoopErrorH,
		}, []string{"bus"}),
		updates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DLLUpdatesN,
			Help: metrics.DLLUpdatesH,
		}, []string{"bus"}),
		rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DLLRejectionsN,
			Help: metrics.DLLRejectionsH,
		}, []string{"bus", "reason"}),
		readFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DLLReadFailuresN,
			Help: metrics.DLLReadFailuresH,
		}, []string{"bus"}),
		resyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DLLResyncsN,
			Help: metrics.DLLResyncsH,
		}, []string{"bus"}),
	}
)

type threadParams struct {
	realtime bool
	priority int
	changed  bool
}

type Helper struct {
	log *zap.Logger
	clk timebase.WallClock
	src timebase.CycleTimerSource
	cfg Config

	// Owned by the updater.
	filter        *dll.Filter
	wakeupUsecs   uint64
	numFailures   int
	numRejections int

	mu    sync.Mutex
	snap  dll.Snapshot
	valid bool

	paramsMu sync.Mutex
	params   threadParams

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewHelper(log *zap.Logger, clk timebase.WallClock, src timebase.CycleTimerSource, cfg Config) (
	*Helper, error) {
	if log == nil || clk == nil || src == nil {
		panic("invalid cycle timer helper arguments")
	}
	if cfg.UpdatePeriod < 0 {
		return nil, &dll.ConfigError{Field: "update period", Reason: "must not be negative"}
	}
	if cfg.UpdatePeriod == 0 && cfg.UpdatePeriodTicks == 0 {
		cfg.UpdatePeriod = DefaultUpdatePeriod
	}
	periodUsecs := math.Round(timemath.Usecs(cfg.UpdatePeriod))
	if periodUsecs > math.MaxUint32 {
		return nil, &dll.ConfigError{Field: "update period", Reason: "out of range"}
	}
	if cfg.UpdatePeriod > 0 && periodUsecs == 0 {
		return nil, &dll.ConfigError{Field: "update period", Reason: "must be at least one microsecond"}
	}
	f, err := dll.NewFilter(dll.Config{
		NominalRate:      cycletimer.NominalRate,
		PeriodUsecs:      uint32(periodUsecs),
		PeriodTicks:      cfg.UpdatePeriodTicks,
		Bandwidth:        cfg.Bandwidth,
		MaxRateDeviation: cfg.MaxRateDeviation,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.FailureEscalation <= 0 {
		cfg.FailureEscalation = defaultFailureEscalation
	}
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = defaultResyncThreshold
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Helper{
		log:    log.With(zap.String("bus", cfg.Name)),
		clk:    clk,
		src:    src,
		cfg:    cfg,
		filter: f,
		params: threadParams{
			realtime: cfg.Realtime,
			priority: cfg.Priority,
			changed:  cfg.Realtime,
		},
	}, nil
}

func (h *Helper) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.done != nil {
		return errAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	// A wakeup requested by a previous run says nothing about this one.
	h.wakeupUsecs = 0
	h.log.Info("starting cycle timer helper",
		zap.Uint32("usecs per update", h.filter.PeriodUsecs()),
		zap.Uint32("ticks per update", h.filter.PeriodTicks()),
	)
	go h.run(ctx, h.done)
	return nil
}

// Stop requests the updater to exit and waits until it has.
func (h *Helper) Stop() {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.done == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
	h.log.Info("stopped cycle timer helper")
}

// SetThreadParameters changes the scheduling of the updater. The change
// takes effect at the start of the next update cycle.
func (h *Helper) SetThreadParameters(realtime bool, priority int) {
	h.paramsMu.Lock()
	defer h.paramsMu.Unlock()
	h.params = threadParams{realtime: realtime, priority: priority, changed: true}
}

func (h *Helper) applyThreadParameters() {
	h.paramsMu.Lock()
	p := h.params
	h.params.changed = false
	h.paramsMu.Unlock()
	if !p.changed {
		return
	}
	if h.cfg.Scheduler == nil {
		h.log.Info("no thread scheduler configured, ignoring thread parameters",
			zap.Bool("realtime", p.realtime), zap.Int("priority", p.priority))
		return
	}
	var err error
	if p.realtime {
		err = h.cfg.Scheduler.SetRealtimePriority(p.priority)
	} else {
		err = h.cfg.Scheduler.SetDefaultPriority()
	}
	if err != nil {
		h.log.Warn("failed to set thread parameters",
			zap.Bool("realtime", p.realtime), zap.Int("priority", p.priority), zap.Error(err))
		return
	}
	h.log.Debug("thread parameters set", zap.Bool("realtime", p.realtime), zap.Int("priority", p.priority))
}

func (h *Helper) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	// Scheduling parameters apply per OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		h.applyThreadParameters()
		timer.Reset(h.update(ctx))
	}
}

// sleepDuration schedules the next wakeup at the predicted sample time,
// early by the measured wakeup jitter.
func (h *Helper) sleepDuration(nowUsecs uint64) time.Duration {
	period := float64(h.filter.PeriodUsecs())
	target := float64(nowUsecs) + period
	if h.filter.Bootstrapped() {
		t := h.filter.PredictedUsecs() - float64(h.filter.WakeupJitter())
		if t > float64(nowUsecs) {
			target = t
		}
	}
	h.wakeupUsecs = uint64(target)
	return timemath.Clamp(timemath.Duration(target-float64(nowUsecs)), 0, timemath.Duration(2*period))
}
