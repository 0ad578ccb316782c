package audio

import (
	"context"
	"math"
	"testing"
)

func pcmOf(samples int, value int16) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = value
	}
	return Bytes(s)
}

func TestBuildVoiceTrackAdditivity(t *testing.T) {
	gap := SilenceSamples(DefaultSentenceGap)
	if gap != 8400 {
		t.Fatalf("expected 8400 silence samples, got %d", gap)
	}

	tests := []struct {
		name  string
		sizes []int
	}{
		{"single", []int{24000}},
		{"two", []int{24000, 12000}},
		{"three", []int{100, 200, 300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var segs [][]byte
			sum := 0
			for i, n := range tt.sizes {
				segs = append(segs, pcmOf(n, int16(i+1)))
				sum += n
			}

			track, err := BuildVoiceTrack(segs, DefaultSentenceGap)
			if err != nil {
				t.Fatalf("BuildVoiceTrack: %v", err)
			}

			want := sum + (len(tt.sizes)-1)*gap
			if track.Samples() != want {
				t.Errorf("samples: got %d, want %d", track.Samples(), want)
			}
			for i, n := range tt.sizes {
				if d := track.Durations[i]; math.Abs(d-float64(n)/SampleRate) > 1e-9 {
					t.Errorf("duration[%d]: got %f", i, d)
				}
			}
		})
	}
}

func TestBuildVoiceTrackOrderAndSilence(t *testing.T) {
	track, err := BuildVoiceTrack([][]byte{pcmOf(10, 7), pcmOf(10, 9)}, DefaultSentenceGap)
	if err != nil {
		t.Fatal(err)
	}
	s := Int16s(track.PCM)
	if s[0] != 7 || s[9] != 7 {
		t.Errorf("first segment not at start: %v", s[:10])
	}
	if s[10] != 0 || s[10+8399] != 0 {
		t.Error("gap is not silent")
	}
	if s[10+8400] != 9 || s[len(s)-1] != 9 {
		t.Error("second segment misplaced")
	}
}

func TestBuildVoiceTrackOddSegment(t *testing.T) {
	odd := append(pcmOf(240, 3), 0x7f)
	track, err := BuildVoiceTrack([][]byte{odd, pcmOf(480, 4)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(track.PCM) != (240+480)*2 {
		t.Fatalf("pcm length %d", len(track.PCM))
	}
	if track.Durations[0] != 0.01 {
		t.Errorf("odd trailing byte counted: %v", track.Durations[0])
	}
	if sum := track.Durations[0] + track.Durations[1]; sum != track.Duration() {
		t.Errorf("durations sum %v, track %v", sum, track.Duration())
	}
}

func TestBuildVoiceTrackMissingSegment(t *testing.T) {
	if _, err := BuildVoiceTrack([][]byte{pcmOf(4, 1), nil}, DefaultSentenceGap); err == nil {
		t.Error("expected error for missing segment")
	}
	if _, err := BuildVoiceTrack(nil, DefaultSentenceGap); err == nil {
		t.Error("expected error for no segments")
	}
}

func TestResample(t *testing.T) {
	in := []int16{0, 100, 200, 300, 400, 500, 600, 700}
	out := Resample(in, 2, 1)
	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
	if out[1] != 200 || out[3] != 600 {
		t.Errorf("unexpected samples %v", out)
	}

	up := Resample([]int16{0, 100}, 1, 2)
	if len(up) != 4 || up[1] != 50 {
		t.Errorf("upsample: %v", up)
	}
}

func TestMusicGain(t *testing.T) {
	if g := MusicGain(100); g != 0.4 {
		t.Errorf("100%%: got %f", g)
	}
	if g := MusicGain(60); math.Abs(g-0.24) > 1e-9 {
		t.Errorf("60%%: got %f", g)
	}
	if g := MusicGain(150); g != 0.4 {
		t.Errorf("clamped: got %f", g)
	}
}

func TestGraphVoiceDelayAndLength(t *testing.T) {
	voice := pcmOf(SampleRate, 1000) // 1 s
	g, err := NewGraphMixer().Build(MixInput{
		Voice: voice,
		Speed: 1,
		Lead:  0.1,
		Intro: 1.5,
		Total: 1.5 + 1 + 1.5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer g.Close()

	track, err := g.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	wantLen := int(math.Ceil(4.1 * SampleRate))
	if len(track.Samples) != wantLen {
		t.Errorf("length: got %d, want %d", len(track.Samples), wantLen)
	}
	start := int(1.6 * SampleRate)
	if track.Samples[start-1] != 0 {
		t.Error("voice started early")
	}
	if track.Samples[start+10] != 1000 {
		t.Errorf("voice missing after delay: %d", track.Samples[start+10])
	}
	if track.Samples[start+SampleRate+10] != 0 {
		t.Error("voice should have ended")
	}
	if track.HasMusic {
		t.Error("no music expected")
	}
}

func TestGraphSpeedShortensVoice(t *testing.T) {
	voice := pcmOf(SampleRate, 500)
	g, err := NewGraphMixer().Build(MixInput{Voice: voice, Speed: 1.25, Total: 2})
	if err != nil {
		t.Fatal(err)
	}
	track, err := g.Render(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	end := int(float64(SampleRate) / 1.25)
	if track.Samples[end-2] != 500 {
		t.Errorf("voice should still play at %d", end-2)
	}
	if track.Samples[end+2] != 0 {
		t.Errorf("voice should be done at %d", end+2)
	}
}

func TestGraphMusicLoopsWithGain(t *testing.T) {
	music := make([]int16, 100)
	for i := range music {
		music[i] = 10000
	}
	g, err := NewGraphMixer().Build(MixInput{
		Voice:       pcmOf(10, 0),
		Music:       music,
		MusicVolume: 100,
		Speed:       1,
		Lead:        0.1,
		Intro:       1,
		Total:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
	track, err := g.Render(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !track.HasMusic {
		t.Error("expected music flag")
	}
	// music starts with the capture, not before
	for _, i := range []int{0, 1200, 2399} {
		if got := track.Samples[i]; got != 0 {
			t.Errorf("sample %d inside the lead: got %d, want silence", i, got)
		}
	}
	if got := track.Samples[2400]; got != 4000 {
		t.Errorf("first music sample: got %d, want 4000", got)
	}
	// well past the 100-sample buffer: looping keeps it audible
	if got := track.Samples[5000]; got != 4000 {
		t.Errorf("looped music sample: got %d, want 4000", got)
	}
}

func TestGraphClose(t *testing.T) {
	g, err := NewGraphMixer().Build(MixInput{Voice: pcmOf(10, 1), Total: 1})
	if err != nil {
		t.Fatal(err)
	}
	if g.Nodes() == 0 {
		t.Fatal("expected connected nodes")
	}
	g.Close()
	g.Close()
	if !g.Closed() || g.Nodes() != 0 {
		t.Error("graph not released")
	}
	if _, err := g.Render(context.Background()); err == nil {
		t.Error("render after close should fail")
	}
}

func TestSampleClock(t *testing.T) {
	c := NewSampleClock(SampleRate)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		if err := c.Wait(ctx, 1.0/30); err != nil {
			t.Fatal(err)
		}
	}
	if math.Abs(c.Now()-1) > 1e-3 {
		t.Errorf("expected ~1s, got %f", c.Now())
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := c.Wait(cancelled, 1); err == nil {
		t.Error("expected context error")
	}
}
