// Package animation plans the Ken Burns zoom and pan for each slide.
package animation

import "math"

// MaxScale is the largest zoom any slide reaches.
const MaxScale = 1.15

// panAmplitude is half the pan travel, as a fraction of the canvas.
const panAmplitude = 0.05

// Config is one slide's motion from p=0 to p=1. Pan values are the
// canvas-relative position of the image centre.
type Config struct {
	ZoomIn     bool
	ScaleStart float64
	ScaleEnd   float64
	PanXStart  float64
	PanXEnd    float64
	PanYStart  float64
	PanYEnd    float64
}

// Frame is the interpolated transform at one instant.
type Frame struct {
	Scale float64
	PanX  float64
	PanY  float64
}

// PlanFor derives slide i's motion. Even slides zoom in, odd ones zoom out;
// pan direction cycles with i so neighbouring slides move differently.
func PlanFor(i int) Config {
	zoomIn := i%2 == 0

	pdx := float64(i%3 - 1)
	pdy := float64((i%2)*2 - 1)
	ox := 0.4 + math.Mod(float64(i)*0.17, 0.2)
	oy := 0.4 + math.Mod(float64(i)*0.13, 0.2)

	c := Config{
		ZoomIn:    zoomIn,
		PanXStart: ox - pdx*panAmplitude,
		PanXEnd:   ox + pdx*panAmplitude,
		PanYStart: oy - pdy*panAmplitude,
		PanYEnd:   oy + pdy*panAmplitude,
	}
	if zoomIn {
		c.ScaleStart, c.ScaleEnd = 1.0, MaxScale
	} else {
		c.ScaleStart, c.ScaleEnd = MaxScale, 1.0
	}
	return c
}

// Plan returns configs for slides 0..n-1
func Plan(n int) []Config {
	out := make([]Config, max(0, n))
	for i := range out {
		out[i] = PlanFor(i)
	}
	return out
}

// At interpolates linearly; p is clamped to [0, 1].
func (c Config) At(p float64) Frame {
	p = math.Max(0, math.Min(1, p))
	return Frame{
		Scale: lerp(c.ScaleStart, c.ScaleEnd, p),
		PanX:  lerp(c.PanXStart, c.PanXEnd, p),
		PanY:  lerp(c.PanYStart, c.PanYEnd, p),
	}
}

// End is the state the slide finishes in
func (c Config) End() Frame {
	return c.At(1)
}

func lerp(a, b, p float64) float64 {
	return a + (b-a)*p
}
