// Package speech turns sentences into 24 kHz mono s16le PCM through a
// remote synthesis service.
package speech

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrRejected marks a request the remote service refused (auth, quota,
// bad voice). Not retried.
var ErrRejected = errors.New("speech service rejected request")

// Request is one sentence to synthesize.
type Request struct {
	Text         string
	Voice        string
	Emotion      string
	EmotionScale int
}

// Gateway synthesizes a single request into raw PCM.
type Gateway interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// SynthesizeAll synthesizes texts in order. With concurrency above one the
// requests run in parallel; results are still returned in input order. Any
// failure fails the whole call.
func SynthesizeAll(ctx context.Context, gw Gateway, texts []string, voice, emotion string, concurrency int) ([][]byte, error) {
	out := make([][]byte, len(texts))

	if concurrency <= 1 {
		for i, t := range texts {
			pcm, err := gw.Synthesize(ctx, Request{Text: t, Voice: voice, Emotion: emotion})
			if err != nil {
				return nil, fmt.Errorf("sentence %d: %w", i+1, err)
			}
			out[i] = pcm
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, t := range texts {
		g.Go(func() error {
			pcm, err := gw.Synthesize(gctx, Request{Text: t, Voice: voice, Emotion: emotion})
			if err != nil {
				return fmt.Errorf("sentence %d: %w", i+1, err)
			}
			out[i] = pcm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
