package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// MemoryMuxer records frame counts and audio length instead of encoding.
// The container bytes are a short text summary.
type MemoryMuxer struct {
	// FailAfter makes WriteFrame fail once this many frames were written.
	FailAfter int

	mu       sync.Mutex
	sessions []*MemorySession
}

// NewMemoryMuxer creates an in-memory muxer
func NewMemoryMuxer() *MemoryMuxer {
	return &MemoryMuxer{}
}

// Codec implements Muxer
func (m *MemoryMuxer) Codec(ctx context.Context) Codec {
	return VP8
}

// Open implements Muxer
func (m *MemoryMuxer) Open(ctx context.Context, spec Spec) (Session, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	s := &MemorySession{spec: spec, failAfter: m.FailAfter}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far
func (m *MemoryMuxer) Sessions() []*MemorySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MemorySession(nil), m.sessions...)
}

// MemorySession is a Session that keeps timestamps only.
type MemorySession struct {
	spec      Spec
	failAfter int

	mu       sync.Mutex
	elapsed  []float64
	finished bool
	aborted  bool
}

// WriteFrame implements Session
func (s *MemorySession) WriteFrame(ctx context.Context, img *image.RGBA, elapsed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return fmt.Errorf("%w: session closed", ErrCapture)
	}
	if s.failAfter > 0 && len(s.elapsed) >= s.failAfter {
		return fmt.Errorf("%w: encoder stopped", ErrCapture)
	}
	s.elapsed = append(s.elapsed, elapsed)
	return nil
}

// Finish implements Session
func (s *MemorySession) Finish(ctx context.Context) (*Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, fmt.Errorf("%w: session closed", ErrCapture)
	}
	s.finished = true
	n := len(s.elapsed)
	return &Container{
		Data:     fmt.Appendf(nil, "frames=%d samples=%d", n, len(s.spec.Audio.Samples)),
		MIME:     s.spec.Codec.MIME(),
		Duration: float64(n) / float64(s.spec.FPS),
		Frames:   n,
	}, nil
}

// Abort implements Session
func (s *MemorySession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.aborted = true
	}
	s.finished = true
}

// Elapsed returns the timestamps of every frame written
func (s *MemorySession) Elapsed() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.elapsed...)
}

// Aborted reports whether the session was aborted before finishing
func (s *MemorySession) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Spec returns the session spec
func (s *MemorySession) Spec() Spec {
	return s.spec
}
