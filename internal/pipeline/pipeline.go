package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"strings"
	"sync"

	"github.com/kikiluvv/storyreel/internal/animation"
	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/compositor"
	"github.com/kikiluvv/storyreel/internal/imagefetch"
	"github.com/kikiluvv/storyreel/internal/imagegen"
	"github.com/kikiluvv/storyreel/internal/music"
	"github.com/kikiluvv/storyreel/internal/prerender"
	"github.com/kikiluvv/storyreel/internal/prompts"
	"github.com/kikiluvv/storyreel/internal/speech"
	"github.com/kikiluvv/storyreel/internal/subtitle"
	"github.com/kikiluvv/storyreel/internal/text"
	"github.com/kikiluvv/storyreel/internal/timeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MaxImages bounds the images requested for one video
const MaxImages = 12

// MusicSource resolves a background track id into samples
type MusicSource interface {
	Load(ctx context.Context, id string) ([]int16, music.Notice)
}

// Deps are the collaborators a pipeline drives.
type Deps struct {
	Speech      speech.Gateway
	Images      imagegen.Generator
	Prompts     prompts.Generator
	Fetcher     *imagefetch.Fetcher
	PreRenderer prerender.ImagePreRenderer
	Mixer       audio.Mixer
	Muxer       capture.Muxer
	// Music may be nil for narration-only output.
	Music MusicSource
	// Close releases provider clients; may be nil.
	Close func() error
}

// Pipeline orchestrates one text into one video
type Pipeline struct {
	logger zerolog.Logger
	cfg    Config
	deps   Deps
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Speech == nil:
		return nil, fmt.Errorf("speech gateway is required")
	case deps.Images == nil:
		return nil, fmt.Errorf("image generator is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("image fetcher is required")
	case deps.PreRenderer == nil || deps.Mixer == nil || deps.Muxer == nil:
		return nil, fmt.Errorf("pre-renderer, mixer and muxer are required")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Local{}
	}
	return &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		cfg:    cfg,
		deps:   deps,
	}, nil
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	if p.deps.Close != nil {
		return p.deps.Close()
	}
	return nil
}

// Config returns the pipeline settings
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run turns one text into one video
func (p *Pipeline) Run(ctx context.Context, req Request, onStatus StatusFunc) (*Result, error) {
	assets, err := p.Prepare(ctx, req, onStatus)
	if err != nil {
		return nil, err
	}
	return p.Record(ctx, assets, onStatus)
}

func (p *Pipeline) validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return inputError("text is empty")
	}
	if !slices.Contains(timeline.Ratios, req.AspectRatio) {
		return inputError("unsupported aspect ratio %q", req.AspectRatio)
	}
	if req.ImageCount < 1 || req.ImageCount > MaxImages {
		return inputError("image count %d outside 1-%d", req.ImageCount, MaxImages)
	}
	if req.MusicVolume < 0 || req.MusicVolume > 100 {
		return inputError("music volume %d outside 0-100", req.MusicVolume)
	}
	if c, ok := p.deps.Images.(interface{ Configured() bool }); ok && !c.Configured() {
		return &Error{Kind: KindInput, Stage: StageGeneratingImages, Err: imagegen.ErrMissingKey}
	}
	if req.Music != "" && req.Music != music.None {
		if _, ok := music.Lookup(req.Music); !ok {
			return inputError("unknown music track %q", req.Music)
		}
	}
	return nil
}

// Prepare gathers prompts, images and narration. Input problems are
// reported before anything is requested from remote services.
func (p *Pipeline) Prepare(ctx context.Context, req Request, onStatus StatusFunc) (*Assets, error) {
	req = p.cfg.withDefaults(req)
	if err := p.validate(req); err != nil {
		return nil, err
	}
	sentences := text.Segment(req.Text)
	if len(sentences) == 0 {
		return nil, inputError("text has no sentences")
	}

	assets := &Assets{
		Request:   req,
		Sentences: sentences,
		Canvas:    timeline.CanvasFor(req.AspectRatio),
	}
	assets.tracker = compositor.NewTracker(p.stateListener(assets, onStatus))

	p.logger.Info().
		Int("sentences", len(sentences)).
		Str("ratio", req.AspectRatio).
		Int("images", req.ImageCount).
		Msg("Preparing assets")

	p.emit(onStatus, Status{Stage: StageGeneratingPrompts, State: compositor.StateIdle})
	imagePrompts, title, err := p.deps.Prompts.Prompts(ctx, prompts.Request{
		Input: req.Text,
		Style: req.Style,
		View:  req.View,
		Count: req.ImageCount,
	})
	if err != nil {
		assets.tracker.Fail()
		err = classify(StageGeneratingPrompts, err)
		p.logger.Error().Err(err).Str("kind", string(KindOf(err))).Msg("Prompt generation failed")
		return nil, err
	}
	if title == "" {
		title = text.FallbackTitle(req.Text)
	}
	assets.Title = title

	p.emit(onStatus, Status{Stage: StageGeneratingImages, State: compositor.StateIdle, Title: title})
	if err := assets.tracker.Set(compositor.StateSynthesizingAudio); err != nil {
		return nil, classify(StageSynthesizing, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		imgs, dropped, err := p.acquireImages(gctx, imagePrompts, req.AspectRatio)
		if err != nil {
			return classify(StageGeneratingImages, err)
		}
		assets.Images = imgs
		assets.Dropped = dropped
		return nil
	})
	g.Go(func() error {
		pcm, err := speech.SynthesizeAll(gctx, p.deps.Speech, sentences, req.Voice, req.Emotion, p.cfg.SpeechConcurrency)
		if err != nil {
			return classify(StageSynthesizing, err)
		}
		voice, err := audio.BuildVoiceTrack(pcm, p.cfg.SentenceGap)
		if err != nil {
			return classify(StageSynthesizing, err)
		}
		assets.Voice = voice
		return nil
	})
	if err := g.Wait(); err != nil {
		assets.tracker.Fail()
		p.logger.Error().Err(err).Str("kind", string(KindOf(err))).Msg("Preparation failed")
		return nil, err
	}

	p.logger.Info().
		Str("title", title).
		Int("images", len(assets.Images)).
		Int("dropped", assets.Dropped).
		Float64("voice", assets.Voice.Duration()).
		Msg("Assets ready")
	return assets, nil
}

// acquireImages generates one URL per prompt and downloads the survivors.
// A prompt that fails is dropped; only losing all of them is an error.
func (p *Pipeline) acquireImages(ctx context.Context, imagePrompts []string, ratio string) ([]imagefetch.Asset, int, error) {
	urls := make([]string, len(imagePrompts))
	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.ImageConcurrency))
	for i, prompt := range imagePrompts {
		g.Go(func() error {
			u, err := p.deps.Images.Generate(gctx, prompt, ratio)
			if err != nil {
				p.logger.Warn().Err(err).Int("index", i).Msg("Image generation failed, dropping")
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			urls[i] = u
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	var ok []string
	for _, u := range urls {
		if u != "" {
			ok = append(ok, u)
		}
	}
	if len(ok) == 0 {
		if firstErr == nil {
			firstErr = errors.New("no prompts")
		}
		return nil, 0, fmt.Errorf("%w: %w", imagefetch.ErrNoUsableAssets, firstErr)
	}

	assets, failures, err := p.deps.Fetcher.FetchAll(ctx, ok)
	if err != nil {
		return nil, 0, err
	}
	for _, f := range failures {
		p.logger.Warn().Err(f.Err).Str("url", f.URL).Msg("Image dropped")
	}
	return assets, len(imagePrompts) - len(assets), nil
}

// Record renders prepared assets into a container. Bitmaps, the audio graph
// and the capture session are released before Record returns.
func (p *Pipeline) Record(ctx context.Context, assets *Assets, onStatus StatusFunc) (*Result, error) {
	if assets == nil || assets.Voice == nil || len(assets.Images) == 0 {
		return nil, inputError("nothing to record")
	}
	tracker := assets.tracker
	if tracker == nil {
		tracker = compositor.NewTracker(nil)
		_ = tracker.Set(compositor.StateSynthesizingAudio)
	}
	// transitions from here on belong to the caller of Record
	tracker.OnChange(p.stateListener(assets, onStatus))

	res, err := p.record(ctx, assets, tracker, onStatus)
	if err != nil {
		tracker.Fail()
		err = classify(StageRecording, err)
		p.logger.Error().Err(err).Str("kind", string(KindOf(err))).Msg("Recording failed")
		return nil, err
	}
	if err := tracker.Set(compositor.StateDone); err != nil {
		p.logger.Warn().Err(err).Msg("State change rejected")
	}
	return res, nil
}

func (p *Pipeline) record(ctx context.Context, assets *Assets, tracker *compositor.Tracker, onStatus StatusFunc) (*Result, error) {
	req := assets.Request
	if err := tracker.Set(compositor.StateRendering); err != nil {
		return nil, err
	}

	lowSpec := prerender.LowSpec(req.LowSpec, len(assets.Images), p.cfg.LowSpecThreshold)
	budget := p.cfg.Normal
	if lowSpec {
		budget = p.cfg.LowSpec
	}
	canvas := assets.Canvas

	tl := timeline.New(assets.Voice.Duration(), req.Speed, p.cfg.Intro, p.cfg.Outro)
	subs, err := timeline.Subtitles(assets.Sentences, assets.Voice.Durations, p.cfg.SentenceGap, tl)
	if err != nil {
		return nil, err
	}

	layout := subtitle.NewLayout(canvas.Width, canvas.Height)
	face, err := subtitle.Face(p.logger, p.cfg.FontPath, layout.FontSize)
	if err != nil {
		return nil, fmt.Errorf("subtitle font: %w", err)
	}
	captions := subtitle.NewRenderer(layout, face, p.cfg.SubtitleLead)
	captions.Prepare(subs)

	var (
		notices    []string
		musicPCM   []int16
		musicTrack = req.Music
	)
	if p.deps.Music != nil && musicTrack != "" && musicTrack != music.None {
		var notice music.Notice
		musicPCM, notice = p.deps.Music.Load(ctx, musicTrack)
		if notice != "" {
			notices = append(notices, string(notice))
		}
	}

	fps := compositor.FrameRate(p.cfg.FPS, p.cfg.LowSpecFPS, lowSpec, p.cfg.Profile)
	codec := p.deps.Muxer.Codec(ctx)

	p.logger.Info().
		Str("title", assets.Title).
		Bool("low_spec", lowSpec).
		Int("fps", fps).
		Str("codec", codec.Name).
		Str("prerender", p.deps.PreRenderer.Name()).
		Float64("total", tl.Total).
		Msg("Recording")

	imgs := make([]image.Image, len(assets.Images))
	for i, a := range assets.Images {
		imgs[i] = a.Image
	}
	bitmaps, err := p.deps.PreRenderer.PreRender(ctx, imgs, prerender.Target{
		Width:  canvas.Width,
		Height: canvas.Height,
		Budget: budget,
	})
	if err != nil {
		return nil, fmt.Errorf("pre-render: %w", err)
	}

	controller := capture.NewController(p.logger, p.deps.Muxer, p.deps.Mixer, p.cfg.CaptureLead)
	container, err := controller.Record(ctx, capture.Recording{
		Frame: compositor.Options{
			Width:     canvas.Width,
			Height:    canvas.Height,
			FPS:       fps,
			Bitmaps:   bitmaps,
			Anims:     animation.Plan(len(bitmaps)),
			Timeline:  tl,
			Subtitles: captions,
			Tracker:   tracker,
			Progress: func(pct float64) {
				p.emit(onStatus, Status{Stage: StageRecording, State: tracker.State(), Progress: pct, Title: assets.Title})
			},
		},
		Mix: audio.MixInput{
			Voice:       assets.Voice.PCM,
			Music:       musicPCM,
			MusicVolume: req.MusicVolume,
			Speed:       tl.Speed,
			Intro:       tl.Intro,
			Total:       tl.Total,
		},
		Codec:   codec,
		Bitrate: capture.Bitrate(lowSpec, p.cfg.Profile),
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Container:  container,
		Duration:   tl.Total,
		Title:      assets.Title,
		Notices:    notices,
		ImagesUsed: len(assets.Images),
		Dropped:    assets.Dropped,
		LowSpec:    lowSpec,
		Subtitles:  subs,
	}, nil
}

func (p *Pipeline) stateListener(assets *Assets, onStatus StatusFunc) func(compositor.State) {
	return func(s compositor.State) {
		p.emit(onStatus, Status{Stage: stageFor(s), State: s, Title: assets.Title})
	}
}

func (p *Pipeline) emit(fn StatusFunc, s Status) {
	if fn != nil {
		fn(s)
	}
}

func stageFor(s compositor.State) Stage {
	switch s {
	case compositor.StateSynthesizingAudio:
		return StageSynthesizing
	case compositor.StateRendering, compositor.StateFinalizing:
		return StageRecording
	case compositor.StateDone:
		return StageDone
	}
	return ""
}
