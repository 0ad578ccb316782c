package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/ffmpeg"
	"github.com/kikiluvv/storyreel/internal/imagefetch"
	"github.com/kikiluvv/storyreel/internal/imagegen"
	"github.com/kikiluvv/storyreel/internal/music"
	"github.com/kikiluvv/storyreel/internal/prerender"
	"github.com/kikiluvv/storyreel/internal/prompts"
	"github.com/kikiluvv/storyreel/internal/speech"
	"github.com/rs/zerolog"
)

// Built is a pipeline wired to the real services plus the shared handles
// other components reuse.
type Built struct {
	*Pipeline
	FFmpeg   *ffmpeg.Executor
	Fetcher  *imagefetch.Fetcher
	Registry *prerender.Registry
	TTSCache *speech.Cache
}

// FromConfig wires the production collaborators from the application
// config. The speech cache is created once here and lives as long as the
// returned pipeline.
func FromConfig(ctx context.Context, logger zerolog.Logger, appCfg *config.Config) (*Built, error) {
	exec, err := ffmpeg.New(logger, appCfg.FFmpeg.Threads)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}

	proxyBase := ""
	if appCfg.Speech.ViaProxy {
		proxyBase = appCfg.Proxy.PublicURL
	}
	cache := speech.NewCache(appCfg.Speech.CacheSize)
	tts := speech.WithCache(speech.NewDoubaoClient(logger, speech.DoubaoConfig{
		Endpoint:     appCfg.Speech.Endpoint,
		ResourceID:   appCfg.Speech.ResourceID,
		AppID:        appCfg.Speech.AppID,
		AccessKey:    appCfg.Speech.AccessKey,
		EmotionScale: appCfg.Speech.EmotionScale,
		Timeout:      appCfg.Speech.Timeout,
		ProxyBase:    proxyBase,
	}), cache)

	images := imagegen.NewArkClient(logger, imagegen.ArkConfig{
		Endpoint:  appCfg.Images.Endpoint,
		Model:     appCfg.Images.Model,
		APIKey:    appCfg.Images.APIKey,
		Size:      appCfg.Images.Size,
		Attempts:  appCfg.Images.Attempts,
		RetryWait: appCfg.Images.RetryWait,
		Timeout:   appCfg.Images.Timeout,
		ProxyBase: proxyBase,
	})

	gen, closePrompts, err := prompts.FromConfig(ctx, logger, appCfg.Prompts, proxyBase)
	if err != nil {
		return nil, fmt.Errorf("prompt provider: %w", err)
	}

	client := &http.Client{Timeout: appCfg.Images.FetchTimeout}
	strategies := []imagefetch.Strategy{imagefetch.Direct{Client: client}}
	if appCfg.Proxy.PublicURL != "" {
		strategies = append(strategies, imagefetch.Proxy{Base: appCfg.Proxy.PublicURL, Client: client})
	}
	fetcher := imagefetch.New(logger, imagefetch.Options{
		Budget:   appCfg.Images.FetchTimeout,
		Attempts: appCfg.Images.FetchAttempts,
		Backoff:  appCfg.Images.FetchBackoff,
	}, strategies...)

	reg := prerender.NewRegistry()
	p, err := New(logger, Deps{
		Speech:      tts,
		Images:      images,
		Prompts:     gen,
		Fetcher:     fetcher,
		PreRenderer: prerender.Select(reg, appCfg.Render.Workers),
		Mixer:       audio.NewGraphMixer(),
		Muxer:       capture.NewFFmpegMuxer(logger, exec, appCfg.TempDir),
		Music:       music.NewLoader(logger, appCfg.Music.Dir, fetcher, exec),
		Close:       closePrompts,
	}, ConfigFrom(appCfg))
	if err != nil {
		closePrompts()
		return nil, err
	}

	return &Built{
		Pipeline: p,
		FFmpeg:   exec,
		Fetcher:  fetcher,
		Registry: reg,
		TTSCache: cache,
	}, nil
}
