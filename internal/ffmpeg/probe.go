package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/kikiluvv/storyreel/pkg/util"
)

// Probe reads container and stream metadata with ffprobe. Export uses the
// duration to turn out_time into a percentage.
func (e *Executor) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	switch {
	case path == "":
		return nil, fmt.Errorf("probe: empty path")
	case e.ffprobePath == "":
		return nil, fmt.Errorf("%w: ffprobe not found in PATH", ErrUnavailable)
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error", "-of", "json", "-show_format", "-show_streams", path)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(path, stdout.Bytes())
}

type probeStream struct {
	Type       string `json:"codec_type"`
	Codec      string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FrameRate  string `json:"r_frame_rate"`
	SampleRate string `json:"sample_rate"`
}

type probeDoc struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

func parseProbe(path string, raw []byte) (*MediaInfo, error) {
	var doc probeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode ffprobe json: %w", err)
	}

	info := &MediaInfo{FilePath: path}
	if secs, err := strconv.ParseFloat(doc.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	info.Bitrate, _ = strconv.ParseInt(doc.Format.BitRate, 10, 64)

	for _, s := range doc.Streams {
		if s.Type == "audio" {
			info.HasAudio = true
			info.AudioCodec = s.Codec
			info.SampleRate, _ = strconv.Atoi(s.SampleRate)
			continue
		}
		// first video stream wins; webm recordings carry one
		if s.Type == "video" && info.VideoCodec == "" {
			info.VideoCodec = s.Codec
			info.Width, info.Height = s.Width, s.Height
			info.FPS = util.ParseFrameRate(s.FrameRate)
		}
	}
	return info, nil
}
