package game

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Calibrator estimates the ratio between the wall clock and the monotonic
// clock used to time agent calls. It runs on its own goroutine and never
// touches engine state; the sandbox only reads the published factor.
type Calibrator struct {
	Delay    time.Duration // wait before the first sample
	Samples  int
	Interval time.Duration // length of one sample

	factor atomic.Uint64 // math.Float64bits
	done   atomic.Bool
	log    *zap.Logger
}

// NewCalibrator returns a calibrator with the standard schedule: five
// seconds of settling then ten one-second samples.
func NewCalibrator(log *zap.Logger) *Calibrator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Calibrator{
		Delay:    5 * time.Second,
		Samples:  10,
		Interval: time.Second,
		log:      log,
	}
	c.factor.Store(math.Float64bits(1))
	return c
}

// Factor returns the current correction factor.
func (c *Calibrator) Factor() float64 {
	return math.Float64frombits(c.factor.Load())
}

// Done reports whether calibration finished.
func (c *Calibrator) Done() bool {
	return c.done.Load()
}

// Run samples until finished or ctx is cancelled. The factor is updated
// after every sample so it converges while the match is already running.
func (c *Calibrator) Run(ctx context.Context) {
	if !sleepCtx(ctx, c.Delay) {
		return
	}

	var totalWall, totalMono time.Duration
	for i := 0; i < c.Samples; i++ {
		start := time.Now()
		wallStart := start.Round(0) // strip the monotonic reading
		if !sleepCtx(ctx, c.Interval) {
			return
		}
		totalMono += time.Since(start)
		totalWall += time.Now().Round(0).Sub(wallStart)

		if totalMono > 0 && totalWall > 0 {
			c.factor.Store(math.Float64bits(float64(totalWall) / float64(totalMono)))
		}
	}

	c.done.Store(true)
	c.log.Info("clock calibration complete", zap.Float64("factor", c.Factor()))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
