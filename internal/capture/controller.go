package capture

import (
	"context"
	"fmt"

	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/compositor"
	"github.com/kikiluvv/storyreel/internal/prerender"
	"github.com/rs/zerolog"
)

// Recording is everything the controller needs for one capture.
type Recording struct {
	// Frame is the compositor setup; Clock, StartTime and Sink are filled in.
	Frame   compositor.Options
	Mix     audio.MixInput
	Codec   Codec
	Bitrate int
}

// Controller wires the audio graph, the recorder and the render loop.
// Capture starts first; the audio and the timeline start Lead seconds
// later, and the render loop is clocked by the samples consumed.
type Controller struct {
	logger zerolog.Logger
	muxer  Muxer
	mixer  audio.Mixer
	lead   float64
}

// NewController creates a controller. lead <= 0 uses DefaultLead.
func NewController(logger zerolog.Logger, muxer Muxer, mixer audio.Mixer, lead float64) *Controller {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Controller{
		logger: logger.With().Str("component", "capture").Logger(),
		muxer:  muxer,
		mixer:  mixer,
		lead:   lead,
	}
}

// Lead returns the capture lead in seconds
func (c *Controller) Lead() float64 {
	return c.lead
}

// Record runs one capture to completion. The audio graph is closed, the
// session finished or aborted and the bitmaps released on every path.
func (c *Controller) Record(ctx context.Context, rec Recording) (*Container, error) {
	bitmaps := rec.Frame.Bitmaps
	rec.Mix.Lead = c.lead

	graph, err := c.mixer.Build(rec.Mix)
	if err != nil {
		prerender.ReleaseAll(bitmaps)
		return nil, fmt.Errorf("build audio graph: %w", err)
	}
	defer graph.Close()

	track, err := graph.Render(ctx)
	if err != nil {
		prerender.ReleaseAll(bitmaps)
		return nil, fmt.Errorf("render audio: %w", err)
	}

	session, err := c.muxer.Open(ctx, Spec{
		Width:   rec.Frame.Width,
		Height:  rec.Frame.Height,
		FPS:     rec.Frame.FPS,
		Audio:   track,
		Codec:   rec.Codec,
		Bitrate: rec.Bitrate,
	})
	if err != nil {
		prerender.ReleaseAll(bitmaps)
		return nil, err
	}

	opts := rec.Frame
	opts.Clock = audio.NewSampleClock(track.SampleRate)
	opts.StartTime = c.lead
	opts.Sink = session

	comp, err := compositor.New(c.logger, opts)
	if err != nil {
		session.Abort()
		return nil, err
	}
	if err := comp.Run(ctx); err != nil {
		session.Abort()
		return nil, err
	}

	container, err := session.Finish(ctx)
	if err != nil {
		session.Abort()
		return nil, err
	}
	if container.Duration == 0 {
		container.Duration = rec.Frame.Timeline.Total
	}

	c.logger.Info().
		Int("frames", container.Frames).
		Float64("duration", container.Duration).
		Bool("music", track.HasMusic).
		Msg("Recording complete")
	return container, nil
}
