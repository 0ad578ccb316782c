// Package compositor draws every output frame from the pre-rendered
// bitmaps, the animation plan and the subtitle plate, paced by the audio
// clock.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/kikiluvv/storyreel/internal/animation"
	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/prerender"
	"github.com/kikiluvv/storyreel/internal/subtitle"
	"github.com/kikiluvv/storyreel/internal/timeline"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// Frame rates.
const (
	DefaultFPS = 30
	LowSpecFPS = 24
)

// throttle skips a redraw when less than this share of a frame interval
// has passed since the last one.
const throttle = 0.9

var black = image.NewUniform(color.RGBA{0, 0, 0, 255})

// FrameSink receives composed frames. The image is reused for the next
// frame, so sinks that keep it must copy.
type FrameSink interface {
	WriteFrame(ctx context.Context, img *image.RGBA, elapsed float64) error
}

// FrameRate picks the capture rate: the reduced rate only applies to
// low-spec renders on the web profile.
func FrameRate(base, reduced int, lowSpec bool, profile string) int {
	if base <= 0 {
		base = DefaultFPS
	}
	if reduced <= 0 {
		reduced = LowSpecFPS
	}
	if lowSpec && profile == config.ProfileWeb {
		return reduced
	}
	return base
}

// Options configures one render.
type Options struct {
	Width    int
	Height   int
	FPS      int
	Bitmaps  []*prerender.Bitmap
	Anims    []animation.Config
	Timeline timeline.Timeline

	// Subtitles may be nil for a render without captions.
	Subtitles *subtitle.Renderer

	Clock audio.Clock
	// StartTime is the clock position of timeline zero.
	StartTime float64

	Sink     FrameSink
	Tracker  *Tracker
	Progress func(percent float64)
}

// Compositor runs the render loop. It owns the bitmaps it is given and
// releases them on every exit path.
type Compositor struct {
	logger zerolog.Logger
	opts   Options
	canvas *image.RGBA

	lastProgress float64
	frames       int
	redraws      int
}

// New validates opts and allocates the canvas
func New(logger zerolog.Logger, opts Options) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		prerender.ReleaseAll(opts.Bitmaps)
		return nil, fmt.Errorf("invalid canvas %dx%d", opts.Width, opts.Height)
	}
	if len(opts.Bitmaps) == 0 || len(opts.Bitmaps) != len(opts.Anims) {
		prerender.ReleaseAll(opts.Bitmaps)
		return nil, fmt.Errorf("need one animation per bitmap: %d bitmaps, %d animations", len(opts.Bitmaps), len(opts.Anims))
	}
	if opts.Clock == nil || opts.Sink == nil {
		prerender.ReleaseAll(opts.Bitmaps)
		return nil, fmt.Errorf("clock and sink are required")
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}

	return &Compositor{
		logger:       logger.With().Str("component", "compositor").Logger(),
		opts:         opts,
		canvas:       image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		lastProgress: -1,
	}, nil
}

// Run draws frames until the timeline is over or ctx is cancelled
func (c *Compositor) Run(ctx context.Context) error {
	defer prerender.ReleaseAll(c.opts.Bitmaps)

	total := c.opts.Timeline.Total
	interval := 1 / float64(c.opts.FPS)
	lastDraw := math.Inf(-1)

	c.logger.Info().
		Int("slides", len(c.opts.Bitmaps)).
		Int("fps", c.opts.FPS).
		Float64("total", total).
		Msg("Render loop started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsed := c.opts.Clock.Now() - c.opts.StartTime
		if elapsed >= total {
			last := len(c.opts.Bitmaps) - 1
			c.drawSlide(c.opts.Bitmaps[last], c.opts.Anims[last].End())
			if err := c.opts.Sink.WriteFrame(ctx, c.canvas, elapsed); err != nil {
				return fmt.Errorf("write final frame: %w", err)
			}
			c.frames++
			c.report(100)
			if c.opts.Tracker != nil {
				if err := c.opts.Tracker.Set(StateFinalizing); err != nil {
					c.logger.Warn().Err(err).Msg("State change rejected")
				}
			}
			c.logger.Info().Int("frames", c.frames).Int("redraws", c.redraws).Msg("Render loop finished")
			return nil
		}

		if elapsed-lastDraw >= throttle*interval {
			c.drawFrame(elapsed)
			lastDraw = elapsed
			c.redraws++
		}
		if err := c.opts.Sink.WriteFrame(ctx, c.canvas, elapsed); err != nil {
			return fmt.Errorf("write frame %d: %w", c.frames, err)
		}
		c.frames++

		c.report(math.Min(100, math.Max(0, elapsed/total*100)))

		if err := c.opts.Clock.Wait(ctx, interval); err != nil {
			return err
		}
	}
}

// Frames returns how many frames reached the sink
func (c *Compositor) Frames() int {
	return c.frames
}

// SlideAt returns the slide index and its local progress at elapsed.
func SlideAt(elapsed, total float64, n int) (int, float64) {
	if n <= 0 || total <= 0 {
		return 0, 0
	}
	per := total / float64(n)
	idx := int(math.Floor(elapsed / per))
	idx = max(0, min(n-1, idx))
	p := (elapsed - float64(idx)*per) / per
	return idx, math.Max(0, math.Min(1, p))
}

func (c *Compositor) drawFrame(elapsed float64) {
	idx, p := SlideAt(elapsed, c.opts.Timeline.Total, len(c.opts.Bitmaps))
	c.drawSlide(c.opts.Bitmaps[idx], c.opts.Anims[idx].At(p))

	if c.opts.Subtitles != nil {
		active := c.opts.Subtitles.Active(elapsed, c.opts.Timeline)
		c.opts.Subtitles.Plate(active).DrawOn(c.canvas)
	}
}

// drawSlide clears the canvas and draws b at the frame's scale, centred
// on the pan point.
func (c *Compositor) drawSlide(b *prerender.Bitmap, f animation.Frame) {
	draw.Draw(c.canvas, c.canvas.Bounds(), black, image.Point{}, draw.Src)
	if b.Released() {
		return
	}

	dw := float64(b.W) / prerender.MaxScale
	dh := float64(b.H) / prerender.MaxScale
	sw := dw * f.Scale
	sh := dh * f.Scale
	x := float64(c.opts.Width)*f.PanX - sw/2
	y := float64(c.opts.Height)*f.PanY - sh/2

	dr := image.Rect(
		int(math.Round(x)), int(math.Round(y)),
		int(math.Round(x+sw)), int(math.Round(y+sh)),
	)
	draw.ApproxBiLinear.Scale(c.canvas, dr, b.Img, b.Img.Bounds(), draw.Src, nil)
}

func (c *Compositor) report(pct float64) {
	if c.opts.Progress == nil {
		return
	}
	if pct-c.lastProgress >= 1 || (pct >= 100 && c.lastProgress < 100) {
		c.lastProgress = pct
		c.opts.Progress(pct)
	}
}
