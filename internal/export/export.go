// Package export turns recorded WebM containers into files on disk,
// transcoding to MP4 when asked.
package export

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/kikiluvv/storyreel/internal/ffmpeg"
	"github.com/kikiluvv/storyreel/pkg/util"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned for MP4 exports when ffmpeg is missing.
var ErrUnavailable = ffmpeg.ErrUnavailable

// Format of an exported file
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// ParseFormat accepts "mp4" or "webm"
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMP4, FormatWebM:
		return Format(s), nil
	case "":
		return FormatMP4, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Transcoder is what the converter needs from ffmpeg.
type Transcoder interface {
	Convert(ctx context.Context, opts ffmpeg.ConvertOptions) error
}

// Options holds the encoder settings.
type Options struct {
	TempDir      string
	Preset       string
	CRF          int
	AudioBitrate string
}

// Converter writes videos to disk.
type Converter struct {
	logger zerolog.Logger
	tc     Transcoder
	opts   Options
}

// New creates a converter. tc may be nil, in which case WebM export still
// works and MP4 export reports ErrUnavailable.
func New(logger zerolog.Logger, tc Transcoder, opts Options) *Converter {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Preset == "" {
		opts.Preset = ffmpeg.DefaultPreset
	}
	if opts.CRF == 0 {
		opts.CRF = ffmpeg.DefaultCRF
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = ffmpeg.DefaultAudioBitrate
	}
	return &Converter{
		logger: logger.With().Str("component", "export").Logger(),
		tc:     tc,
		opts:   opts,
	}
}

// Available reports whether MP4 export can run
func (c *Converter) Available() bool {
	return c.tc != nil
}

// Convert transcodes a WebM container to MP4 at outPath. Progress runs
// 0-99 while ffmpeg works and reaches 100 only on success.
func (c *Converter) Convert(ctx context.Context, data []byte, duration float64, outPath string, progress func(float64)) error {
	if c.tc == nil {
		return ErrUnavailable
	}
	if len(data) == 0 {
		return fmt.Errorf("nothing to export")
	}
	if err := util.EnsureDir(filepath.Dir(outPath)); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	in, err := util.WriteTemp(c.opts.TempDir, "storyreel-export-*.webm", data)
	if err != nil {
		return fmt.Errorf("write temp input: %w", err)
	}
	defer util.CleanupFiles(in)

	last := -1.0
	report := func(pct float64) {
		if progress != nil && pct != last {
			last = pct
			progress(pct)
		}
	}

	err = c.tc.Convert(ctx, ffmpeg.ConvertOptions{
		Input:        in,
		Output:       outPath,
		VideoCodec:   ffmpeg.DefaultVideoCodec,
		AudioCodec:   ffmpeg.DefaultAudioCodec,
		AudioBitrate: c.opts.AudioBitrate,
		Preset:       c.opts.Preset,
		CRF:          c.opts.CRF,
		Filters:      ffmpeg.MP4Filters(),
		ProgressFunc: func(p *ffmpeg.Progress) {
			if duration <= 0 || p.OutTime <= 0 {
				return
			}
			report(math.Min(99, math.Floor(p.OutTime/duration*100)))
		},
	})
	if err != nil {
		util.CleanupFiles(outPath)
		return err
	}
	report(100)
	return nil
}

// Video is one finished recording to export.
type Video struct {
	Title    string
	Data     []byte
	Duration float64
}

// FileName returns the exported name of the i-th video
func FileName(i int, title string, f Format) string {
	return fmt.Sprintf("%02d-%s.%s", i+1, util.SafeFilename(title, "video"), f)
}

// ExportAll writes every video into dir. A failing video is logged and
// skipped; the saved paths are returned in input order.
func (c *Converter) ExportAll(ctx context.Context, videos []Video, dir string, f Format, progress func(done, total int, pct float64)) ([]string, error) {
	if f == FormatMP4 && c.tc == nil {
		return nil, ErrUnavailable
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var saved []string
	for i, v := range videos {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		out := filepath.Join(dir, FileName(i, v.Title, f))

		var err error
		switch f {
		case FormatWebM:
			err = os.WriteFile(out, v.Data, 0644)
		default:
			err = c.Convert(ctx, v.Data, v.Duration, out, func(pct float64) {
				if progress != nil {
					progress(i, len(videos), pct)
				}
			})
		}
		if err != nil {
			c.logger.Warn().Err(err).Int("index", i).Str("title", v.Title).Msg("Export failed, skipping")
			continue
		}
		saved = append(saved, out)
		if progress != nil {
			progress(i+1, len(videos), 100)
		}
		c.logger.Info().Str("path", out).Msg("Exported")
	}
	return saved, nil
}
