// Package capture turns composed frames and the mixed audio track into a
// WebM container.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/config"
)

// ErrCapture marks failures of the recorder itself.
var ErrCapture = errors.New("capture failed")

// DefaultLead is how long capture runs before the timeline starts, in seconds.
const DefaultLead = 0.1

// Codec is a video encoder choice.
type Codec struct {
	Encoder string // ffmpeg encoder name, empty for the container default
	Name    string // codec name as it appears in the MIME type
}

// Preferred encoders, best first.
var (
	VP8 = Codec{Encoder: "libvpx", Name: "vp8"}
	VP9 = Codec{Encoder: "libvpx-vp9", Name: "vp9"}
)

// ChooseCodec prefers VP8, then VP9, else leaves the choice to the container.
func ChooseCodec(available map[string]bool) Codec {
	for _, c := range []Codec{VP8, VP9} {
		if available[c.Encoder] {
			return c
		}
	}
	return Codec{}
}

// MIME returns the container type for a recording made with c
func (c Codec) MIME() string {
	if c.Name == "" {
		return "video/webm"
	}
	return fmt.Sprintf("video/webm; codecs=%s,opus", c.Name)
}

// Bitrate returns the target video bitrate in bits per second.
func Bitrate(lowSpec bool, profile string) int {
	web := profile == config.ProfileWeb
	switch {
	case lowSpec && web:
		return 2_500_000
	case lowSpec:
		return 4_000_000
	case web:
		return 4_000_000
	default:
		return 6_000_000
	}
}

// Spec describes one recording.
type Spec struct {
	Width   int
	Height  int
	FPS     int
	Audio   *audio.MixedTrack
	Codec   Codec
	Bitrate int
}

func (s Spec) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: invalid frame size %dx%d", ErrCapture, s.Width, s.Height)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("%w: invalid frame rate %d", ErrCapture, s.FPS)
	}
	if s.Audio == nil || len(s.Audio.Samples) == 0 {
		return fmt.Errorf("%w: no audio track", ErrCapture)
	}
	return nil
}

// Container is a finished recording.
type Container struct {
	Data     []byte
	MIME     string
	Duration float64
	Frames   int
}

// Session accepts frames for one recording. It satisfies
// compositor.FrameSink.
type Session interface {
	WriteFrame(ctx context.Context, img *image.RGBA, elapsed float64) error
	// Finish flushes the encoder and returns the container.
	Finish(ctx context.Context) (*Container, error)
	// Abort stops the recording and drops its output. Safe after Finish.
	Abort()
}

// Muxer opens recording sessions.
type Muxer interface {
	Codec(ctx context.Context) Codec
	Open(ctx context.Context, spec Spec) (Session, error)
}
