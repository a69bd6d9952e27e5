package benchmark

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"go.uber.org/zap"

	"example.com/cycle-timer/base/timebase"

	"example.com/cycle-timer/core/cycletimer"
)

type Config struct {
	NumReaders          int
	NumQueriesPerReader int
	// Warmup is the time the updater runs before queries start.
	Warmup time.Duration
}

// RunQueryBenchmark measures the latency of cycle timer queries issued by
// concurrent readers while the updater is running, and prints one latency
// distribution in nanoseconds per reader.
func RunQueryBenchmark(ctx context.Context, log *zap.Logger, w io.Writer,
	h *cycletimer.Helper, clk timebase.WallClock, cfg Config) error {
	if cfg.NumReaders <= 0 {
		cfg.NumReaders = 1
	}
	if cfg.NumQueriesPerReader <= 0 {
		cfg.NumQueriesPerReader = 1_000_000
	}

	err := h.Start(ctx)
	if err != nil {
		return err
	}
	defer h.Stop()
	time.Sleep(cfg.Warmup)

	var mu sync.Mutex
	var firstErr error
	sg := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(cfg.NumReaders)
	for i := cfg.NumReaders; i > 0; i-- {
		go func() {
			defer wg.Done()
			hg := hdrhistogram.New(1, 1_000_000, 3)
			<-sg
			for j := cfg.NumQueriesPerReader; j > 0; j-- {
				now, err := clk.NowUsecs()
				if err != nil {
					log.Error("failed to read wall clock", zap.Error(err))
					return
				}
				t0 := time.Now()
				_, err = h.EstimatePacked(now)
				d := time.Since(t0)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				err = hg.RecordValue(d.Nanoseconds())
				if err != nil {
					log.Error("failed to record histogram value", zap.Error(err))
					return
				}
			}
			mu.Lock()
			defer mu.Unlock()
			_, _ = hg.PercentilesPrint(w, 1, 1.0)
		}()
	}
	t0 := time.Now()
	close(sg)
	wg.Wait()
	log.Info("query benchmark finished",
		zap.Int("readers", cfg.NumReaders),
		zap.Int("queries per reader", cfg.NumQueriesPerReader),
		zap.Duration("duration", time.Since(t0)),
	)
	return firstErr
}
