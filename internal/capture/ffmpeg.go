package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"

	"github.com/kikiluvv/storyreel/internal/audio"
	"github.com/kikiluvv/storyreel/internal/ffmpeg"
	"github.com/kikiluvv/storyreel/pkg/util"
	"github.com/rs/zerolog"
)

var errAborted = errors.New("recording aborted")

// FFmpegMuxer encodes through an ffmpeg process: raw RGBA frames on stdin,
// the mixed track from a temp PCM file, WebM on stdout.
type FFmpegMuxer struct {
	logger  zerolog.Logger
	exec    *ffmpeg.Executor
	tempDir string

	codecOnce sync.Once
	codec     Codec
}

// NewFFmpegMuxer creates a muxer writing temp files under tempDir
func NewFFmpegMuxer(logger zerolog.Logger, exec *ffmpeg.Executor, tempDir string) *FFmpegMuxer {
	return &FFmpegMuxer{
		logger:  logger.With().Str("component", "capture").Logger(),
		exec:    exec,
		tempDir: tempDir,
	}
}

// Codec picks the encoder once per process
func (m *FFmpegMuxer) Codec(ctx context.Context) Codec {
	m.codecOnce.Do(func() {
		encoders, err := m.exec.ListEncoders(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Could not list encoders, using container default")
			return
		}
		m.codec = ChooseCodec(encoders)
		m.logger.Info().Str("encoder", m.codec.Encoder).Str("mime", m.codec.MIME()).Msg("Video codec selected")
	})
	return m.codec
}

// Open starts ffmpeg and returns the session feeding it
func (m *FFmpegMuxer) Open(ctx context.Context, spec Spec) (Session, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	pcmPath, err := util.WriteTemp(m.tempDir, "storyreel-*.pcm", audio.Bytes(spec.Audio.Samples))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &ffmpegSession{
		logger:  m.logger,
		spec:    spec,
		pcmPath: pcmPath,
		pw:      pw,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	args := muxArgs(spec, pcmPath)
	go func() {
		defer close(s.done)
		s.runErr = m.exec.Run(runCtx, ffmpeg.RunOptions{
			Args:   args,
			Stdin:  pr,
			Stdout: &s.out,
			ProgressHandler: func(p *ffmpeg.Progress) {
				s.logger.Debug().Int("frame", p.Frame).Float64("out_time", p.OutTime).Str("speed", p.Speed).Msg("Encoding")
			},
			LogHandler: func(line string) {
				s.logger.Trace().Str("ffmpeg", line).Msg("capture output")
			},
		})
		if s.runErr != nil {
			pr.CloseWithError(s.runErr)
		} else {
			pr.CloseWithError(io.ErrClosedPipe)
		}
	}()

	m.logger.Info().
		Int("width", spec.Width).
		Int("height", spec.Height).
		Int("fps", spec.FPS).
		Int("bitrate", spec.Bitrate).
		Str("encoder", spec.Codec.Encoder).
		Msg("Capture started")
	return s, nil
}

func muxArgs(spec Spec, pcmPath string) []string {
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(spec.Audio.SampleRate),
		"-ac", "1",
		"-i", pcmPath,
		"-map", "0:v",
		"-map", "1:a",
	}
	if spec.Codec.Encoder != "" {
		args = append(args, "-c:v", spec.Codec.Encoder)
	}
	if spec.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(spec.Bitrate))
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", "libopus",
		"-f", "webm",
		"pipe:1",
	)
	return args
}

type ffmpegSession struct {
	logger  zerolog.Logger
	spec    Spec
	pcmPath string

	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}

	out    bytes.Buffer
	runErr error

	mu       sync.Mutex
	frames   int
	finished bool
	cleanup  sync.Once
}

func (s *ffmpegSession) WriteFrame(ctx context.Context, img *image.RGBA, elapsed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() != s.spec.Width || b.Dy() != s.spec.Height {
		return fmt.Errorf("%w: frame is %dx%d, want %dx%d", ErrCapture, b.Dx(), b.Dy(), s.spec.Width, s.spec.Height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return fmt.Errorf("%w: session closed", ErrCapture)
	}
	if _, err := s.pw.Write(img.Pix); err != nil {
		return fmt.Errorf("%w: write frame %d: %v", ErrCapture, s.frames, err)
	}
	s.frames++
	return nil
}

func (s *ffmpegSession) Finish(ctx context.Context) (*Container, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed", ErrCapture)
	}
	s.finished = true
	frames := s.frames
	s.mu.Unlock()

	s.pw.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.cancel()
		<-s.done
	}
	s.release()

	if s.runErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, s.runErr)
	}
	if s.out.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", ErrCapture)
	}

	c := &Container{
		Data:     s.out.Bytes(),
		MIME:     s.spec.Codec.MIME(),
		Duration: float64(frames) / float64(s.spec.FPS),
		Frames:   frames,
	}
	s.logger.Info().Int("frames", frames).Int("bytes", len(c.Data)).Msg("Capture finished")
	return c, nil
}

func (s *ffmpegSession) Abort() {
	// closing the pipe first unblocks a WriteFrame stuck on a full pipe
	s.cancel()
	s.pw.CloseWithError(errAborted)

	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()

	<-s.done
	s.release()
}

func (s *ffmpegSession) release() {
	s.cleanup.Do(func() {
		s.cancel()
		util.CleanupFiles(s.pcmPath)
	})
}
