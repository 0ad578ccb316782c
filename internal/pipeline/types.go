package pipeline

import (
	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/capture"
	"github.com/kikiluvv/storyreel/internal/compositor"
	"github.com/kikiluvv/storyreel/internal/config"
	"github.com/kikiluvv/storyreel/internal/imagefetch"
	"github.com/kikiluvv/storyreel/internal/music"
	"github.com/kikiluvv/storyreel/internal/prerender"
	"github.com/kikiluvv/storyreel/internal/timeline"
)

// Request is one video to make
type Request struct {
	Text        string
	AspectRatio string
	ImageCount  int
	Voice       string
	Emotion     string
	Speed       float64
	Music       string
	MusicVolume int
	LowSpec     bool
	Style       string
	View        string
}

// Stage names the step a run is in, for progress reporting
type Stage string

const (
	StageGeneratingPrompts Stage = "generating_prompts"
	StageGeneratingImages  Stage = "generating_images"
	StageSynthesizing      Stage = "synthesizing_audio"
	StageRecording         Stage = "recording"
	StageDone              Stage = "done"
)

// Status is one progress report
type Status struct {
	Stage    Stage
	State    compositor.State
	Progress float64 // 0-100 while recording
	Title    string
}

// StatusFunc receives progress reports; it may be nil
type StatusFunc func(Status)

// Assets is everything Prepare gathered for one video. It holds decoded
// images only; bitmaps are created and released inside Record.
type Assets struct {
	Request   Request
	Title     string
	Sentences []string
	Voice     *audio.VoiceTrack
	Images    []imagefetch.Asset
	Dropped   int
	Canvas    timeline.Canvas

	tracker *compositor.Tracker
}

// Result is a finished video
type Result struct {
	Container  *capture.Container
	Duration   float64
	Title      string
	Notices    []string
	ImagesUsed int
	Dropped    int
	LowSpec    bool
	Subtitles  []timeline.TimedSubtitle
}

// Config holds pipeline-specific configuration
type Config struct {
	Profile string

	AspectRatio string
	ImageCount  int
	Voice       string
	Emotion     string
	Speed       float64
	Style       string
	View        string
	Music       string
	MusicVolume int

	Intro        float64
	Outro        float64
	SentenceGap  float64
	SubtitleLead float64
	CaptureLead  float64
	FontPath     string

	// ForceLowSpec turns low-spec on for every request
	ForceLowSpec     bool
	FPS              int
	LowSpecFPS       int
	LowSpecThreshold int
	Normal           prerender.Budget
	LowSpec          prerender.Budget

	SpeechConcurrency int
	ImageConcurrency  int
}

// ConfigFrom derives pipeline settings from the application config
func ConfigFrom(c *config.Config) Config {
	r := c.Render
	return Config{
		Profile:           c.Profile,
		AspectRatio:       r.AspectRatio,
		ImageCount:        c.Images.Count,
		Voice:             c.Speech.Voice,
		Emotion:           c.Speech.Emotion,
		Speed:             r.Speed,
		Style:             c.Prompts.Style,
		View:              c.Prompts.ViewDistance,
		Music:             c.Music.Track,
		MusicVolume:       c.Music.Volume,
		Intro:             r.IntroPadding,
		Outro:             r.OutroPadding,
		SentenceGap:       r.SentenceGap,
		SubtitleLead:      r.SubtitleLead,
		CaptureLead:       r.CaptureLead,
		FontPath:          r.FontPath,
		ForceLowSpec:      r.LowSpec,
		FPS:               r.FPS,
		LowSpecFPS:        r.LowSpecFPS,
		LowSpecThreshold:  c.LowSpecThreshold(),
		Normal:            prerender.Budget{MaxSource: r.MaxSourceSize, MaxPre: r.MaxPreSize},
		LowSpec:           prerender.Budget{MaxSource: r.LowSpecMaxSourceSize, MaxPre: r.LowSpecMaxPreSize},
		SpeechConcurrency: c.Speech.Concurrency,
		ImageConcurrency:  4,
	}
}

// DefaultConfig is ConfigFrom over the built-in defaults
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// withDefaults fills request fields left empty from the config
func (c Config) withDefaults(req Request) Request {
	if req.AspectRatio == "" {
		req.AspectRatio = c.AspectRatio
	}
	if req.ImageCount <= 0 {
		req.ImageCount = c.ImageCount
	}
	if req.Voice == "" {
		req.Voice = c.Voice
	}
	if req.Emotion == "" {
		req.Emotion = c.Emotion
	}
	if req.Speed <= 0 {
		req.Speed = c.Speed
	}
	if req.Style == "" {
		req.Style = c.Style
	}
	if req.View == "" {
		req.View = c.View
	}
	if req.Music == "" {
		req.Music = c.Music
	}
	if req.Music == "auto" {
		req.Music = music.SuggestForStyle(req.Style)
	}
	if req.MusicVolume < 0 {
		req.MusicVolume = c.MusicVolume
	}
	req.LowSpec = req.LowSpec || c.ForceLowSpec
	return req
}
