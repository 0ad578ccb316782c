// Package timeline places narration, subtitles and slides on the single
// time axis shared with the audio clock.
package timeline

import (
	"fmt"
	"math"
)

// Defaults observed in production renders.
const (
	DefaultIntro = 1.5
	DefaultOutro = 1.5
	MinSpeed     = 0.7
	MaxSpeed     = 1.3
)

// Timeline is the session's time axis in seconds.
type Timeline struct {
	Intro      float64
	Outro      float64
	Speed      float64
	VoiceStart float64
	VoiceEnd   float64
	Total      float64
}

// TimedSubtitle is one sentence's on-screen window.
type TimedSubtitle struct {
	Text  string
	Start float64
	End   float64
}

// New builds a timeline for voiceDuration seconds of narration played at
// speed, clamped into [MinSpeed, MaxSpeed].
func New(voiceDuration, speed, intro, outro float64) Timeline {
	speed = ClampSpeed(speed)
	voice := voiceDuration / speed
	return Timeline{
		Intro:      intro,
		Outro:      outro,
		Speed:      speed,
		VoiceStart: intro,
		VoiceEnd:   intro + voice,
		Total:      intro + voice + outro,
	}
}

// ClampSpeed limits a playback speed to the supported range
func ClampSpeed(speed float64) float64 {
	if speed <= 0 || math.IsNaN(speed) {
		return 1
	}
	return math.Max(MinSpeed, math.Min(MaxSpeed, speed))
}

// ImageDisplayDuration is how long each of n slides stays on screen.
func (t Timeline) ImageDisplayDuration(n int) float64 {
	if n <= 0 {
		return t.Total
	}
	return t.Total / float64(n)
}

// Subtitles walks cumulative sentence durations (plus gap after each,
// scaled by speed) from VoiceStart.
func Subtitles(sentences []string, durations []float64, gap float64, t Timeline) ([]TimedSubtitle, error) {
	if len(sentences) != len(durations) {
		return nil, fmt.Errorf("sentence/duration mismatch: %d vs %d", len(sentences), len(durations))
	}

	subs := make([]TimedSubtitle, len(sentences))
	cum := t.VoiceStart
	for i, s := range sentences {
		d := durations[i] / t.Speed
		subs[i] = TimedSubtitle{Text: s, Start: cum, End: cum + d}
		cum += d + gap/t.Speed
	}
	return subs, nil
}

// Speeds lists the selectable playback speeds, 0.70 to 1.30 in 0.05 steps.
func Speeds() []float64 {
	out := make([]float64, 0, 13)
	for i := 0; i < 13; i++ {
		out = append(out, math.Round((MinSpeed+float64(i)*0.05)*100)/100)
	}
	return out
}

// Canvas is an output frame size.
type Canvas struct {
	Width  int
	Height int
}

// Ratios lists the supported aspect ratios in display order.
var Ratios = []string{"16:9", "4:3", "3:4", "9:16", "1:1"}

// CanvasFor maps an aspect ratio to its frame size; unknown ratios use 1:1.
func CanvasFor(ratio string) Canvas {
	switch ratio {
	case "16:9":
		return Canvas{1920, 1080}
	case "4:3":
		return Canvas{1440, 1080}
	case "3:4":
		return Canvas{1080, 1440}
	case "9:16":
		return Canvas{1080, 1920}
	default:
		return Canvas{1024, 1024}
	}
}
