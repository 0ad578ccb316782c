package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is the audio clock the render loop reads elapsed time from.
// Wait blocks until d more seconds of audio have been consumed.
type Clock interface {
	Now() float64
	Wait(ctx context.Context, d float64) error
}

// SampleClock counts samples handed to the capture destination. Offline
// rendering consumes audio exactly as fast as frames are produced, so Wait
// advances the position instead of sleeping.
type SampleClock struct {
	rate float64
	pos  atomic.Int64
}

// NewSampleClock returns a clock at sample 0
func NewSampleClock(rate int) *SampleClock {
	return &SampleClock{rate: float64(rate)}
}

// Now returns the clock position in seconds
func (c *SampleClock) Now() float64 {
	return float64(c.pos.Load()) / c.rate
}

// Advance moves the clock forward by n samples
func (c *SampleClock) Advance(n int64) {
	c.pos.Add(n)
}

// Wait consumes d seconds of audio
func (c *SampleClock) Wait(ctx context.Context, d float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.Advance(int64(d*c.rate + 0.5))
	}
	return nil
}

// WallClock follows real time from its creation, for live previews.
type WallClock struct {
	start time.Time
}

// NewWallClock starts a wall clock now
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns seconds since the clock started
func (c *WallClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Wait sleeps for d seconds or until ctx is done
func (c *WallClock) Wait(ctx context.Context, d float64) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(d * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
