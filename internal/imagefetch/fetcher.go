package imagefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// ErrNoUsableAssets means every image failed to download or decode.
var ErrNoUsableAssets = errors.New("no usable visual assets")

// Result is the outcome of one Fetch: either the data and the strategy
// that produced it, or the last error once every strategy is exhausted.
type Result struct {
	Data     []byte
	Strategy string
	Err      error
	Attempts int
}

// OK reports whether some strategy succeeded
func (r Result) OK() bool {
	return r.Err == nil && r.Data != nil
}

// DefaultBackoff is the first retry wait when Options.Backoff is unset.
const DefaultBackoff = 500 * time.Millisecond

// Options tune a Fetcher.
type Options struct {
	// Budget bounds one Fetch across all strategies and attempts.
	Budget time.Duration
	// Attempts per strategy.
	Attempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
	// Concurrency for FetchAll.
	Concurrency int
}

// Fetcher tries its strategies in order.
type Fetcher struct {
	logger     zerolog.Logger
	strategies []Strategy
	opts       Options
}

// New creates a fetcher over strategies, tried first to last
func New(logger zerolog.Logger, opts Options, strategies ...Strategy) *Fetcher {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Budget <= 0 {
		opts.Budget = 60 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Fetcher{
		logger:     logger.With().Str("component", "imagefetch").Logger(),
		strategies: strategies,
		opts:       opts,
	}
}

// Fetch downloads target, falling through strategies on failure
func (f *Fetcher) Fetch(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Budget)
	defer cancel()

	res := Result{Err: fmt.Errorf("no transport strategies configured")}
	for _, s := range f.strategies {
		for attempt := 1; attempt <= f.opts.Attempts; attempt++ {
			res.Attempts++
			data, err := s.Fetch(ctx, target)
			if err == nil {
				return Result{Data: data, Strategy: s.Name(), Attempts: res.Attempts}
			}
			res.Err = fmt.Errorf("%s: %w", s.Name(), err)

			f.logger.Debug().
				Str("strategy", s.Name()).
				Int("attempt", attempt).
				Err(err).
				Msg("fetch attempt failed")

			if ctx.Err() != nil {
				return res
			}
			if attempt < f.opts.Attempts {
				if err := sleep(ctx, time.Duration(attempt)*f.opts.Backoff); err != nil {
					return res
				}
			}
		}
	}
	return res
}

// Asset is one usable image.
type Asset struct {
	Index    int // position in the requested list
	URL      string
	Image    image.Image
	Format   string
	Strategy string
}

// Failure records why an image was dropped.
type Failure struct {
	Index int
	URL   string
	Err   error
}

// FetchAll downloads and decodes urls concurrently. Failed entries are
// dropped; the survivors keep input order. Zero survivors is
// ErrNoUsableAssets.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]Asset, []Failure, error) {
	type slot struct {
		asset *Asset
		err   error
	}
	slots := make([]slot, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			res := f.Fetch(gctx, u)
			if !res.OK() {
				slots[i].err = res.Err
				return nil
			}
			img, format, err := Decode(res.Data)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].asset = &Asset{Index: i, URL: u, Image: img, Format: format, Strategy: res.Strategy}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var assets []Asset
	var failures []Failure
	for i, s := range slots {
		if s.asset != nil {
			assets = append(assets, *s.asset)
			continue
		}
		failures = append(failures, Failure{Index: i, URL: urls[i], Err: s.err})
		f.logger.Warn().Int("index", i).Err(s.err).Msg("dropping image")
	}

	if len(assets) == 0 {
		return nil, failures, ErrNoUsableAssets
	}

	f.logger.Info().
		Int("usable", len(assets)).
		Int("dropped", len(failures)).
		Msg("images fetched")

	return assets, failures, nil
}

// Decode decodes jpeg, png, gif or webp data
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("decode image: empty bounds")
	}
	return img, format, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
