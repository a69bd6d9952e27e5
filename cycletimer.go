// Cycle timer tracking service

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmcloughlin/profile"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/cycle-timer/base/cycletimer"
	"example.com/cycle-timer/base/floats"
	"example.com/cycle-timer/base/timebase"
	"example.com/cycle-timer/base/zaplog"

	"example.com/cycle-timer/benchmark"

	helper "example.com/cycle-timer/core/cycletimer"

	"example.com/cycle-timer/driver/clock"
	"example.com/cycle-timer/driver/firewire"
	"example.com/cycle-timer/driver/sim"
)

const (
	defaultDevice      = "/dev/fw0"
	defaultMetricsAddr = "127.0.0.1:8080"
	defaultPriority    = 60
)

type svcConfig struct {
	Device           string  `toml:"device,omitempty"`
	Simulate         bool    `toml:"simulate,omitempty"`
	SimFrequencyPPM  float64 `toml:"sim_frequency_error_ppm,omitempty"`
	UpdatePeriod     string  `toml:"update_period,omitempty"`
	Bandwidth        float64 `toml:"bandwidth,omitempty"`
	MaxRateDeviation float64 `toml:"max_rate_deviation,omitempty"`
	Realtime         bool    `toml:"realtime,omitempty"`
	Priority         int     `toml:"priority,omitempty"`
	ReadTimeout      string  `toml:"read_timeout,omitempty"`
	MetricsAddr      string  `toml:"metrics_address,omitempty"`
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(l)
	log = zaplog.Logger()
}

func runMonitor(addr string) {
	log := zaplog.Logger()
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func decodeConfig(raw []byte) (svcConfig, error) {
	var cfg svcConfig
	err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		return svcConfig{}, err
	}
	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	if cfg.Realtime && cfg.Priority == 0 {
		cfg.Priority = defaultPriority
	}
	return cfg, nil
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	return cfg
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

func helperConfig(cfg svcConfig, sched timebase.ThreadScheduler) (helper.Config, error) {
	period, err := parseDuration("update_period", cfg.UpdatePeriod)
	if err != nil {
		return helper.Config{}, err
	}
	timeout, err := parseDuration("read_timeout", cfg.ReadTimeout)
	if err != nil {
		return helper.Config{}, err
	}
	if cfg.Priority < 0 {
		return helper.Config{}, errors.New("invalid priority: must not be negative")
	}
	name := cfg.Device
	if cfg.Simulate {
		name = "sim"
	}
	return helper.Config{
		Name:             name,
		UpdatePeriod:     period,
		Bandwidth:        cfg.Bandwidth,
		MaxRateDeviation: cfg.MaxRateDeviation,
		ReadTimeout:      timeout,
		Realtime:         cfg.Realtime,
		Priority:         cfg.Priority,
		Scheduler:        sched,
	}, nil
}

type cycleTimerSource interface {
	timebase.CycleTimerSource
	Close() error
}

type simSource struct {
	*sim.Bus
}

func (simSource) Close() error { return nil }

func newSource(dev string, simulate bool, ppm float64) (timebase.WallClock, cycleTimerSource) {
	if simulate {
		bus := sim.NewBus(sim.Config{
			FrequencyErrorPPM: ppm,
			InitialTicks:      uint64(time.Now().UnixNano()) % cycletimer.WrapTicks,
			ReadLatency:       2 * time.Microsecond,
			Seed:              time.Now().UnixNano(),
		})
		return bus, simSource{bus}
	}
	return &clock.MonotonicClock{Log: log}, firewire.NewDevice(log, dev)
}

func newHelper(cfg svcConfig) (*helper.Helper, timebase.WallClock, cycleTimerSource) {
	clk, src := newSource(cfg.Device, cfg.Simulate, cfg.SimFrequencyPPM)
	hcfg, err := helperConfig(cfg, &clock.Scheduler{Log: log})
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	h, err := helper.NewHelper(log, clk, src, hcfg)
	if err != nil {
		log.Fatal("failed to create cycle timer helper", zap.Error(err))
	}
	return h, clk, src
}

func runService(configFile string) {
	ctx := context.Background()

	cfg := loadConfig(configFile)
	h, _, src := newHelper(cfg)
	defer src.Close()

	err := h.Start(ctx)
	if err != nil {
		log.Fatal("failed to start cycle timer helper", zap.Error(err))
	}
	go runMonitor(cfg.MetricsAddr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info("shutting down", zap.Stringer("signal", sig))
	h.Stop()
}

func runTool(dev string, simulate bool, n int, interval time.Duration) {
	ctx := context.Background()

	clk, src := newSource(dev, simulate, 0)
	defer src.Close()

	var (
		prevTicks int64
		prevUsecs uint64
		rates     []float64
	)
	for i := 0; i < n; i++ {
		if i != 0 {
			time.Sleep(interval)
		}
		var (
			ctr   uint32
			usecs uint64
			err   error
		)
		if s, ok := src.(timebase.TimestampedCycleTimerSource); ok {
			ctr, usecs, err = s.ReadCycleTimerAt(ctx)
		} else {
			usecs, err = clk.NowUsecs()
			if err == nil {
				ctr, err = src.ReadCycleTimer(ctx)
			}
		}
		if err != nil {
			log.Fatal("failed to read cycle timer", zap.String("device", dev), zap.Error(err))
		}
		if !cycletimer.Valid(ctr) {
			log.Fatal("invalid cycle timer value", zap.Uint32("ctr", ctr))
		}
		ref := int64(cycletimer.Unpack(ctr))
		if i != 0 {
			ref = prevTicks
		}
		ticks := cycletimer.Unwrap(ctr, ref)
		fmt.Printf("%d\t%#08x\t%3d s %4d c %4d o\t%d\n",
			usecs, ctr, cycletimer.Seconds(ctr), cycletimer.Cycles(ctr), cycletimer.Offset(ctr), ticks)
		if i != 0 && usecs > prevUsecs {
			rates = append(rates, float64(ticks-prevTicks)/float64(usecs-prevUsecs))
		}
		prevTicks, prevUsecs = ticks, usecs
	}
	if len(rates) != 0 {
		mean, stddev := floats.MeanStddev(rates)
		fmt.Printf("rate: median = %.6f, mean = %.6f, stddev = %.6f ticks/us (nominal %.3f)\n",
			floats.Median(rates), mean, stddev, cycletimer.NominalRate)
	}
}

func runBenchmark(configFile string, numReaders, numQueries int, profiling bool) {
	if profiling {
		defer profile.Start(profile.CPUProfile, profile.MemProfile).Stop()
	}

	cfg := loadConfig(configFile)
	h, clk, src := newHelper(cfg)
	defer src.Close()

	err := benchmark.RunQueryBenchmark(context.Background(), log, os.Stdout, h, clk, benchmark.Config{
		NumReaders:          numReaders,
		NumQueriesPerReader: numQueries,
		Warmup:              time.Second,
	})
	if err != nil {
		log.Fatal("benchmark failed", zap.Error(err))
	}
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		device     string
		simulate   bool
		numSamples int
		interval   time.Duration
		numReaders int
		numQueries int
		profiling  bool
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&device, "device", defaultDevice, "FireWire device")
	toolFlags.BoolVar(&simulate, "simulate", false, "Use a simulated bus")
	toolFlags.IntVar(&numSamples, "n", 10, "Number of samples")
	toolFlags.DurationVar(&interval, "interval", 100*time.Millisecond, "Sample interval")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&configFile, "config", "", "Config file")
	benchmarkFlags.IntVar(&numReaders, "readers", 4, "Number of concurrent readers")
	benchmarkFlags.IntVar(&numQueries, "queries", 1_000_000, "Number of queries per reader")
	benchmarkFlags.BoolVar(&profiling, "profile", false, "Write CPU and memory profiles")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runService(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		if numSamples <= 0 || interval < 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(device, simulate, numSamples, interval)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" || numReaders <= 0 || numQueries <= 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(configFile, numReaders, numQueries, profiling)
	default:
		exitWithUsage()
	}
}
