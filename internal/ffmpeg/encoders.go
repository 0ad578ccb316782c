package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// ListEncoders returns the names of the encoders the local ffmpeg was
// built with.
func (e *Executor) ListEncoders(ctx context.Context) (map[string]bool, error) {
	out, err := e.Output(ctx, "-encoders")
	if err != nil {
		return nil, err
	}
	return parseEncoders(out), nil
}

// parseEncoders reads `ffmpeg -encoders` output. Entry lines look like
// " V....D libvpx               libvpx VP8"; everything before the
// "------" separator is legend.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
