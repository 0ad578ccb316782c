package main

import (
	"context"
	"fmt"

	"github.com/kikiluvv/storyreel/internal/batch"
	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/export"
	"github.com/kikiluvv/storyreel/internal/logging"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/kikiluvv/storyreel/internal/text"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	batchOpts   requestFlags
	batchFormat string
	batchOut    string
)

var batchCmd = &cobra.Command{
	Use:   "batch [file|-]",
	Short: "Render several stories, separated by blank lines or ---",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		format, err := export.ParseFormat(batchFormat)
		if err != nil {
			return err
		}

		file := ""
		if len(args) == 1 && args[0] != "-" {
			file = args[0]
		}
		raw, err := readInput(nil, file)
		if err != nil {
			return fmt.Errorf("read stories: %w", err)
		}
		texts := text.SplitBatch(raw)
		if len(texts) == 0 {
			return fmt.Errorf("no stories found")
		}

		logger := logging.WithComponent("batch")
		built, err := pipeline.FromConfig(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		defer built.Close()

		job := batch.New(logger, built, texts, batch.Options{
			Prefetch: cfg.Batch.Prefetch,
			Template: batchOpts.request(""),
		})

		// Ctrl-C aborts: the current recording is dropped and the rest stay pending.
		go func() {
			select {
			case <-cmd.Context().Done():
				job.Abort()
			case <-job.Done():
			}
		}()

		updates, stop := job.Subscribe()
		go func() {
			for it := range updates {
				ev := log.Info()
				if it.Status == batch.StatusError {
					ev = log.Warn().Str("error", it.Error).Str("kind", string(it.Kind))
				}
				ev.Int("item", it.Index+1).
					Str("status", string(it.Status)).
					Float64("progress", it.Progress).
					Msg("Batch update")
			}
		}()
		// The job runs on its own context; Abort is how it is stopped.
		err = job.Run(context.WithoutCancel(cmd.Context()))
		stop()
		if err != nil {
			return err
		}

		var videos []export.Video
		for i, it := range job.Snapshot() {
			if res := job.Result(i); res != nil {
				videos = append(videos, export.Video{Title: res.Title, Data: res.Container.Data, Duration: res.Duration})
			} else {
				log.Warn().Int("item", i+1).Str("status", string(it.Status)).Msg("No video for item")
			}
		}
		if len(videos) == 0 {
			return fmt.Errorf("no videos were produced")
		}

		out := batchOut
		if out == "" {
			out = cfg.OutputDir
		}
		conv := export.New(log.Logger, built.FFmpeg, export.Options{
			TempDir:      cfg.TempDir,
			Preset:       cfg.FFmpeg.Preset,
			CRF:          cfg.FFmpeg.CRF,
			AudioBitrate: cfg.FFmpeg.AudioBitrate,
		})
		bar := newBar(int64(len(videos)*100), "exporting")
		saved, err := conv.ExportAll(context.WithoutCancel(cmd.Context()), videos, out, format, func(done, total int, pct float64) {
			if pct >= 100 {
				bar.Set(done * 100)
				return
			}
			bar.Set(done*100 + int(pct))
		})
		bar.Finish()
		if err != nil {
			return err
		}
		log.Info().Int("saved", len(saved)).Int("stories", len(texts)).Str("dir", out).Msg("Batch complete")
		return nil
	},
}

func init() {
	batchOpts.bind(batchCmd)
	batchCmd.Flags().StringVar(&batchFormat, "export", "mp4", "export format: mp4 or webm")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "output directory (default: output_dir)")
}
