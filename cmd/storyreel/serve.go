package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/export"
	"github.com/kikiluvv/storyreel/internal/ffmpeg"
	"github.com/kikiluvv/storyreel/internal/logging"
	"github.com/kikiluvv/storyreel/internal/pipeline"
	"github.com/kikiluvv/storyreel/internal/proxy"
	"github.com/kikiluvv/storyreel/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy, job API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		logger := logging.WithComponent("serve")
		built, err := pipeline.FromConfig(cmd.Context(), logger, cfg)
		if err != nil {
			return err
		}
		defer built.Close()

		srv := server.New(logger, built, server.Options{
			Addr:     addr,
			MusicDir: cfg.Music.Dir,
			Prefetch: cfg.Batch.Prefetch,
			Proxy: proxy.New(logger, proxy.Options{
				Timeout:  cfg.Proxy.Timeout,
				Attempts: cfg.Proxy.Attempts,
			}),
		})

		if cfg.Speech.ViaProxy && cfg.Proxy.PublicURL != "" && !strings.Contains(cfg.Proxy.PublicURL, addr) {
			// the configured public URL points elsewhere; make sure it answers
			go func() {
				time.Sleep(time.Second)
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				if err := proxy.HealthCheck(ctx, nil, cfg.Proxy.PublicURL); err != nil {
					log.Warn().Err(err).Str("url", cfg.Proxy.PublicURL).Msg("Public proxy is not reachable")
				}
			}()
		}

		return srv.ListenAndServe(cmd.Context())
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [in.webm] [out.mp4]",
	Short: "Convert a recorded WebM to MP4",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		in := args[0]
		out := strings.TrimSuffix(in, filepath.Ext(in)) + ".mp4"
		if len(args) == 2 {
			out = args[1]
		}

		exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(in)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		var duration float64
		if info, err := exec.Probe(cmd.Context(), in); err == nil {
			duration = info.Duration.Seconds()
		} else {
			log.Debug().Err(err).Msg("Probe failed, progress will not be shown")
		}

		conv := export.New(log.Logger, exec, export.Options{
			TempDir:      cfg.TempDir,
			Preset:       cfg.FFmpeg.Preset,
			CRF:          cfg.FFmpeg.CRF,
			AudioBitrate: cfg.FFmpeg.AudioBitrate,
		})
		bar := newBar(100, "converting")
		err = conv.Convert(cmd.Context(), data, duration, out, func(p float64) { bar.Set(int(p)) })
		bar.Finish()
		if err != nil {
			return err
		}
		log.Info().Str("path", out).Msg("Exported")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}
