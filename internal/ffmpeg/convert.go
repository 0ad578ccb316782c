package ffmpeg

import (
	"context"
	"fmt"
)

// Convert transcodes one container into another
func (e *Executor) Convert(ctx context.Context, opts ConvertOptions) error {
	if err := validateConvertOptions(opts); err != nil {
		return fmt.Errorf("invalid convert options: %w", err)
	}

	e.logger.Info().
		Str("input", opts.Input).
		Str("output", opts.Output).
		Msg("starting conversion")

	args := []string{"-i", opts.Input}

	var vf Chain
	if chain := vf.Raw(opts.Filters...).String(); chain != "" {
		args = append(args, "-vf", chain)
	}

	videoCodec := opts.VideoCodec
	if videoCodec == "" {
		videoCodec = DefaultVideoCodec
	}
	args = append(args, "-c:v", videoCodec)

	preset := opts.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	args = append(args, "-preset", preset)

	crf := opts.CRF
	if crf == 0 {
		crf = DefaultCRF
	}
	args = append(args, "-crf", fmt.Sprintf("%d", crf))

	audioCodec := opts.AudioCodec
	if audioCodec == "" {
		audioCodec = DefaultAudioCodec
	}
	args = append(args, "-c:a", audioCodec)

	audioBitrate := opts.AudioBitrate
	if audioBitrate == "" {
		audioBitrate = DefaultAudioBitrate
	}
	args = append(args, "-b:a", audioBitrate)

	if len(opts.CustomArgs) > 0 {
		args = append(args, opts.CustomArgs...)
	}

	args = append(args, opts.Output)

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Trace().Str("ffmpeg", line).Msg("convert output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("conversion completed")
	return nil
}

// validateConvertOptions validates the convert options
func validateConvertOptions(opts ConvertOptions) error {
	if opts.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.Input == opts.Output {
		return fmt.Errorf("output must differ from input")
	}
	if opts.CRF < 0 || opts.CRF > 51 {
		return fmt.Errorf("CRF must be between 0 and 51")
	}
	return nil
}
