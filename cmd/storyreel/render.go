package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/export"
	"github.com/kikiluvv/storyreel/internal/logging"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/kikiluvv/storyreel/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// requestFlags are the per-video options shared by render and batch.
type requestFlags struct {
	ratio   string
	images  int
	voice   string
	emotion string
	speed   float64
	music   string
	volume  int
	lowSpec bool
	style   string
	view    string
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.ratio, "ratio", "", "aspect ratio (16:9, 4:3, 3:4, 9:16, 1:1)")
	fl.IntVar(&f.images, "images", 0, "number of images (1-12)")
	fl.StringVar(&f.voice, "voice", "", "narrator voice id, see `catalog voices`")
	fl.StringVar(&f.emotion, "emotion", "", "narration emotion, see `catalog emotions`")
	fl.Float64Var(&f.speed, "speed", 0, "playback speed (0.7-1.3)")
	fl.StringVar(&f.music, "music", "", "background track id, none or auto")
	fl.IntVar(&f.volume, "volume", -1, "music volume 0-100")
	fl.BoolVar(&f.lowSpec, "low-spec", false, "force low-spec mode")
	fl.StringVar(&f.style, "style", "", "image style")
	fl.StringVar(&f.view, "view", "", "camera distance")
}

func (f *requestFlags) request(text string) pipeline.Request {
	return pipeline.Request{
		Text:        text,
		AspectRatio: f.ratio,
		ImageCount:  f.images,
		Voice:       f.voice,
		Emotion:     f.emotion,
		Speed:       f.speed,
		Music:       f.music,
		MusicVolume: f.volume,
		LowSpec:     f.lowSpec,
		Style:       f.style,
		View:        f.view,
	}
}

// readInput returns the argument, or stdin when it is "-", or the file
// contents when --file is given.
func readInput(args []string, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		return string(data), err
	}
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	return strings.Join(args, " "), nil
}

func newBar(max int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

var (
	renderOpts   requestFlags
	renderFile   string
	renderOutput string
	renderMP4    bool
)

var renderCmd = &cobra.Command{
	Use:   "render [text|-]",
	Short: "Render one story to a video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		story, err := readInput(args, renderFile)
		if err != nil {
			return fmt.Errorf("read story: %w", err)
		}

		logger := logging.WithComponent("render")
		built, err := pipeline.FromConfig(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		defer built.Close()

		bar := newBar(100, "starting")
		res, err := built.Run(cmd.Context(), renderOpts.request(story), func(s pipeline.Status) {
			bar.Describe(string(s.Stage))
			bar.Set(int(s.Progress))
		})
		bar.Finish()
		if err != nil {
			log.Error().Str("kind", string(pipeline.KindOf(err))).Err(err).Msg("Render failed")
			return err
		}
		for _, n := range res.Notices {
			log.Warn().Msg(n)
		}

		format := export.FormatWebM
		if renderMP4 {
			format = export.FormatMP4
		}
		out := renderOutput
		if out == "" {
			out = filepath.Join(cfg.OutputDir, export.FileName(0, res.Title, format))
		}

		if format == export.FormatWebM {
			if err := util.EnsureDir(filepath.Dir(out)); err != nil {
				return err
			}
			if err := os.WriteFile(out, res.Container.Data, 0644); err != nil {
				return err
			}
		} else {
			conv := export.New(log.Logger, built.FFmpeg, export.Options{
				TempDir:      cfg.TempDir,
				Preset:       cfg.FFmpeg.Preset,
				CRF:          cfg.FFmpeg.CRF,
				AudioBitrate: cfg.FFmpeg.AudioBitrate,
			})
			cbar := newBar(100, "converting")
			err := conv.Convert(cmd.Context(), res.Container.Data, res.Duration, out, func(p float64) { cbar.Set(int(p)) })
			cbar.Finish()
			if err != nil {
				return err
			}
		}

		log.Info().
			Str("path", out).
			Str("title", res.Title).
			Str("length", util.FormatSeconds(res.Duration)).
			Int("images", res.ImagesUsed).
			Int("dropped", res.Dropped).
			Bool("low_spec", res.LowSpec).
			Msg("Video saved")
		return nil
	},
}

func init() {
	renderOpts.bind(renderCmd)
	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "read the story from a file")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "output path (default: <output_dir>/01-<title>.webm)")
	renderCmd.Flags().BoolVar(&renderMP4, "mp4", false, "convert to MP4 with ffmpeg")
}
