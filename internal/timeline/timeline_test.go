package timeline

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestNew(t *testing.T) {
	tl := New(10, 1.25, DefaultIntro, DefaultOutro)
	if tl.VoiceStart != 1.5 {
		t.Errorf("voice start: %f", tl.VoiceStart)
	}
	if math.Abs(tl.VoiceEnd-9.5) > eps {
		t.Errorf("voice end: %f", tl.VoiceEnd)
	}
	if math.Abs(tl.Total-11) > eps {
		t.Errorf("total: %f", tl.Total)
	}
}

func TestSpeedClamped(t *testing.T) {
	if New(1, 2, 1.5, 1.5).Speed != MaxSpeed {
		t.Error("speed above range not clamped")
	}
	if New(1, 0.1, 1.5, 1.5).Speed != MinSpeed {
		t.Error("speed below range not clamped")
	}
	if New(1, 0, 1.5, 1.5).Speed != 1 {
		t.Error("zero speed should default to 1")
	}
}

func TestSubtitlesMonotonic(t *testing.T) {
	durations := []float64{1.2, 0.8, 2.5, 0.3}
	sentences := []string{"a", "b", "c", "d"}
	total := 0.0
	for _, d := range durations {
		total += d
	}
	total += 0.35 * float64(len(durations)-1)

	for _, speed := range []float64{0.7, 1, 1.3} {
		tl := New(total, speed, DefaultIntro, DefaultOutro)
		subs, err := Subtitles(sentences, durations, 0.35, tl)
		if err != nil {
			t.Fatal(err)
		}
		if subs[0].Start != tl.VoiceStart {
			t.Errorf("speed %.2f: first start %f != voice start %f", speed, subs[0].Start, tl.VoiceStart)
		}
		for i := 1; i < len(subs); i++ {
			if subs[i-1].End > subs[i].Start {
				t.Errorf("speed %.2f: overlap at %d", speed, i)
			}
		}
		last := subs[len(subs)-1]
		if math.Abs(last.End-tl.VoiceEnd) > 1e-6 {
			t.Errorf("speed %.2f: last end %f != voice end %f", speed, last.End, tl.VoiceEnd)
		}
	}
}

func TestSubtitlesMismatch(t *testing.T) {
	if _, err := Subtitles([]string{"a"}, nil, 0.35, New(1, 1, 1.5, 1.5)); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestSpeeds(t *testing.T) {
	s := Speeds()
	if len(s) != 13 || s[0] != 0.7 || s[12] != 1.3 || s[6] != 1.0 {
		t.Errorf("unexpected speeds %v", s)
	}
}

func TestCanvasFor(t *testing.T) {
	tests := map[string]Canvas{
		"16:9": {1920, 1080},
		"4:3":  {1440, 1080},
		"3:4":  {1080, 1440},
		"9:16": {1080, 1920},
		"1:1":  {1024, 1024},
		"21:9": {1024, 1024},
	}
	for ratio, want := range tests {
		if got := CanvasFor(ratio); got != want {
			t.Errorf("%s: got %v, want %v", ratio, got, want)
		}
	}
}

func TestImageDisplayDuration(t *testing.T) {
	tl := New(6, 1, 1.5, 1.5)
	if got := tl.ImageDisplayDuration(3); math.Abs(got-3) > eps {
		t.Errorf("got %f", got)
	}
}
