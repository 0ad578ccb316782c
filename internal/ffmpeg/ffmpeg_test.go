package ffmpeg

import (
	"bytes"
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).Level(zerolog.InfoLevel)
	e, err := New(logger, 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return e
}

func TestParseProgressBlock(t *testing.T) {
	lines := []string{
		"frame=42",
		"fps=29.97",
		"bitrate= 812.3kbits/s",
		"out_time_us=1400000",
		"out_time=00:00:01.400000",
		"speed=1.02x",
		"progress=continue",
	}

	p := &Progress{}
	var closed bool
	for _, l := range lines {
		closed = parseProgressLine(p, l)
	}

	if !closed {
		t.Fatal("progress=continue should close the block")
	}
	if p.Frame != 42 {
		t.Errorf("frame: got %d", p.Frame)
	}
	if math.Abs(p.OutTime-1.4) > 1e-6 {
		t.Errorf("out_time: got %f", p.OutTime)
	}
	if p.Bitrate != "812.3kbits/s" {
		t.Errorf("bitrate: got %q", p.Bitrate)
	}
	if p.Done {
		t.Error("block should not be final")
	}

	final := &Progress{}
	parseProgressLine(final, "out_time=N/A")
	if parseProgressLine(final, "progress=end"); !final.Done {
		t.Error("progress=end should mark done")
	}
	if final.OutTime != 0 {
		t.Errorf("N/A out_time should be ignored, got %f", final.OutTime)
	}
}

func TestStreamOutputDeliversBlocks(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"Input #0, rawvideo, from 'pipe:0':",
		"out_time=00:00:00.500000",
		"progress=continue",
		"out_time=00:00:01.000000",
		"progress=end",
	}, "\n")

	var got []float64
	var logged int
	e.streamOutput(strings.NewReader(input), func(p *Progress) {
		got = append(got, p.OutTime)
	}, func(string) { logged++ })

	if len(got) != 2 || got[0] != 0.5 || got[1] != 1 {
		t.Errorf("unexpected progress sequence %v", got)
	}
	if logged != 5 {
		t.Errorf("expected every line logged, got %d", logged)
	}
}

func TestParseEncoders(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libvpx               libvpx VP8 (codec vp8)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D libopus              libopus Opus (codec opus)
`)
	enc := parseEncoders(out)
	for _, name := range []string{"libx264", "libvpx", "libvpx-vp9", "libopus"} {
		if !enc[name] {
			t.Errorf("expected encoder %s", name)
		}
	}
	if enc["="] || enc["Video"] {
		t.Error("legend lines leaked into the encoder list")
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"format": {"duration": "4.133000", "bit_rate": "512000"},
		"streams": [
			{"codec_type": "video", "codec_name": "vp8", "width": 1920, "height": 1080, "r_frame_rate": "30/1"},
			{"codec_type": "audio", "codec_name": "opus", "sample_rate": "48000"}
		]
	}`)
	info, err := parseProbe("x.webm", raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 || info.FPS != 30 {
		t.Errorf("video stream: %+v", info)
	}
	if !info.HasAudio || info.AudioCodec != "opus" || info.SampleRate != 48000 {
		t.Errorf("audio stream: %+v", info)
	}
	if info.Duration.Seconds() < 4.13 || info.Duration.Seconds() > 4.14 {
		t.Errorf("duration: %v", info.Duration)
	}
}

func TestChain(t *testing.T) {
	if got := strings.Join(MP4Filters(), ","); got != "scale=trunc(iw/2)*2:trunc(ih/2)*2,format=yuv420p" {
		t.Errorf("MP4Filters = %q", got)
	}

	var c Chain
	if got := c.Fit(0, 10).Pix("").Raw(" ", "").String(); got != "" {
		t.Errorf("expected empty chain, got %q", got)
	}

	var d Chain
	if got := d.Fit(640, 360).Raw("fps=24").String(); got != "scale=640:360,fps=24" {
		t.Errorf("got %q", got)
	}
}

func TestValidateConvertOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    ConvertOptions
		wantErr bool
	}{
		{"ok", ConvertOptions{Input: "a.webm", Output: "a.mp4"}, false},
		{"no input", ConvertOptions{Output: "a.mp4"}, true},
		{"same path", ConvertOptions{Input: "a.mp4", Output: "a.mp4"}, true},
		{"bad crf", ConvertOptions{Input: "a.webm", Output: "a.mp4", CRF: 60}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConvertOptions(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeAudioFromStdin(t *testing.T) {
	skipIfNoFFmpeg(t)
	e := newTestExecutor(t)

	dir := t.TempDir()
	wav := filepath.Join(dir, "tone.wav")
	cmd := exec.Command("ffmpeg", "-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-ar", "48000", "-y", wav)
	if err := cmd.Run(); err != nil {
		t.Skipf("could not generate test tone: %v", err)
	}
	data, err := os.ReadFile(wav)
	if err != nil {
		t.Fatal(err)
	}

	pcm, err := e.DecodeAudio(context.Background(), "pipe:0", data, NarrationFormat())
	if err != nil {
		t.Fatalf("DecodeAudio: %v", err)
	}

	// one second at 24 kHz mono s16le, give or take resampler padding
	if n := len(pcm) / 2; n < 23000 || n > 25000 {
		t.Errorf("expected ~24000 samples, got %d", n)
	}
}

func TestRunPipesStdinToStdout(t *testing.T) {
	skipIfNoFFmpeg(t)
	e := newTestExecutor(t)

	frame := bytes.Repeat([]byte{255, 0, 0, 255}, 16*16)
	frames := bytes.Repeat(frame, 10)

	var out bytes.Buffer
	var last *Progress
	err := e.Run(context.Background(), RunOptions{
		Args: []string{
			"-f", "rawvideo", "-pix_fmt", "rgba", "-s", "16x16", "-r", "10", "-i", "pipe:0",
			"-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1",
		},
		Stdin:           bytes.NewReader(frames),
		Stdout:          &out,
		ProgressHandler: func(p *Progress) { last = p },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != len(frames) {
		t.Errorf("expected %d bytes back, got %d", len(frames), out.Len())
	}
	if last == nil || !last.Done {
		t.Error("expected a final progress block")
	}
}

func TestRunFailureIncludesStderr(t *testing.T) {
	skipIfNoFFmpeg(t)
	e := newTestExecutor(t)

	err := e.Run(context.Background(), RunOptions{Args: []string{"-i", "does-not-exist.webm", "-f", "null", "-"}})
	if err == nil {
		t.Fatal("expected failure for missing input")
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("error should carry ffmpeg's message: %v", err)
	}
}

func TestProbeInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)
	e := newTestExecutor(t)
	if e.ffprobePath == "" {
		t.Skip("ffprobe not found in PATH")
	}

	invalidPath := filepath.Join(t.TempDir(), "invalid.txt")
	os.WriteFile(invalidPath, []byte("not a video"), 0644)

	if _, err := e.Probe(context.Background(), invalidPath); err == nil {
		t.Error("Probe should fail for invalid media file")
	}
}
