package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/kikiluvv/storyreel/pkg/util"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the ffmpeg binaries are not installed.
var ErrUnavailable = errors.New("ffmpeg is not available")

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates a new ffmpeg executor
func New(logger zerolog.Logger, threads int) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH: %v", ErrUnavailable, err)
	}

	// ffprobe is only used for probing; everything else works without it
	ffprobePath, _ := exec.LookPath("ffprobe")

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// Run executes ffmpeg with the given arguments and streams progress.
// When opts.Stdin is set it is copied to the process and closed at EOF.
// When opts.Stdout is set the raw output is forwarded chunk by chunk in
// arrival order; otherwise stdout lines go to the log handler.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	// Build args with threads BEFORE other arguments
	baseArgs := []string{"-y", "-hide_banner", "-loglevel", "info", "-nostdin"}
	if opts.Stdin != nil {
		baseArgs = baseArgs[:len(baseArgs)-1]
	}

	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}

	baseArgs = append(baseArgs, "-progress", "pipe:2")
	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stdin io.WriteCloser
	if opts.Stdin != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Stream stderr (progress + logs)
	tail := newTail(20)
	go func() {
		defer wg.Done()
		e.streamOutput(stderr, opts.ProgressHandler, func(line string) {
			tail.add(line)
			if opts.LogHandler != nil {
				opts.LogHandler(line)
			}
		})
	}()

	// Stream stdout
	var copyErr error
	go func() {
		defer wg.Done()
		if opts.Stdout != nil {
			if _, err := io.Copy(opts.Stdout, stdout); err != nil {
				copyErr = fmt.Errorf("failed to read ffmpeg output: %w", err)
			}
			return
		}
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.LogHandler != nil {
				opts.LogHandler(scanner.Text())
			}
		}
	}()

	var stdinErr error
	if stdin != nil {
		_, stdinErr = io.Copy(stdin, opts.Stdin)
		stdin.Close()
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail.String())
	}
	if stdinErr != nil {
		return fmt.Errorf("failed to feed ffmpeg: %w", stdinErr)
	}
	if copyErr != nil {
		return copyErr
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// Output runs ffmpeg without progress reporting and returns its stdout.
// Used for capability queries such as -encoders.
func (e *Executor) Output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, append([]string{"-hide_banner"}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s failed: %w", strings.Join(args, " "), err)
	}
	return out.Bytes(), nil
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		if parseProgressLine(progressData, line) {
			// End of progress block
			if progressHandler != nil && (progressData.Frame > 0 || progressData.OutTime > 0 || progressData.Done) {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

// parseProgressLine folds one -progress key=value line into p and reports
// whether it closed the block.
func parseProgressLine(p *Progress, line string) bool {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		fmt.Sscanf(value, "%d", &p.Frame)
	case "fps":
		fmt.Sscanf(value, "%f", &p.FPS)
	case "bitrate":
		p.Bitrate = value
	case "out_time":
		p.Time = value
		if d, err := util.ParseTimestamp(value); err == nil && d > 0 {
			p.OutTime = d.Seconds()
		}
	case "out_time_us", "out_time_ms":
		// both keys carry microseconds
		if p.OutTime == 0 {
			var us int64
			if _, err := fmt.Sscanf(value, "%d", &us); err == nil && us > 0 {
				p.OutTime = float64(us) / 1e6
			}
		}
	case "speed":
		p.Speed = value
	case "progress":
		p.Done = value == "end"
		return true
	}
	return false
}

// tail keeps the last n stderr lines for error messages.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) add(line string) {
	if strings.Contains(line, "=") && !strings.Contains(line, " ") {
		return // progress key
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
