package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
)

// AudioFormat defines raw audio decoding options
type AudioFormat struct {
	Format     string // ffmpeg muxer, e.g. s16le
	SampleRate int
	Channels   int
}

// NarrationFormat is the PCM layout the rest of the pipeline works in:
// 16-bit little-endian mono at 24 kHz.
func NarrationFormat() AudioFormat {
	return AudioFormat{
		Format:     "s16le",
		SampleRate: 24000,
		Channels:   1, // mono
	}
}

// DecodeAudio decodes any input ffmpeg understands (a path, or "pipe:0"
// with stdin set) to raw PCM in the given format.
func (e *Executor) DecodeAudio(ctx context.Context, input string, stdin []byte, format AudioFormat) ([]byte, error) {
	if input == "" {
		return nil, fmt.Errorf("input is required")
	}

	e.logger.Debug().
		Str("input", input).
		Str("format", format.Format).
		Int("sample_rate", format.SampleRate).
		Msg("decoding audio")

	args := []string{
		"-i", input,
		"-vn", // no video
		"-f", format.Format,
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-ac", fmt.Sprintf("%d", format.Channels),
		"pipe:1",
	}

	var out bytes.Buffer
	opts := RunOptions{
		Args:   args,
		Stdout: &out,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("audio decode")
		},
	}
	if stdin != nil {
		opts.Stdin = bytes.NewReader(stdin)
	}

	if err := e.Run(ctx, opts); err != nil {
		return nil, fmt.Errorf("audio decode failed: %w", err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("audio decode produced no samples")
	}

	pcm := out.Bytes()
	return pcm[:len(pcm)&^1], nil
}
