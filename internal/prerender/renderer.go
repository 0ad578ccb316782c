package prerender

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// ImagePreRenderer turns decoded images into bitmaps for a target canvas.
// Results keep input order. On error or cancel nothing is returned and
// every bitmap allocated along the way has been released.
type ImagePreRenderer interface {
	PreRender(ctx context.Context, imgs []image.Image, t Target) ([]*Bitmap, error)
	Name() string
}

// Select returns the pool renderer when more than one worker is available
// and the synchronous one otherwise. workers <= 0 means one per CPU.
func Select(reg *Registry, workers int) ImagePreRenderer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 1 || runtime.NumCPU() <= 1 {
		return &Sync{reg: reg}
	}
	return &Pool{reg: reg, workers: workers}
}

// Sync renders on the caller's goroutine, yielding between images.
type Sync struct {
	reg *Registry
}

// NewSync creates a synchronous renderer
func NewSync(reg *Registry) *Sync {
	return &Sync{reg: reg}
}

// Name implements ImagePreRenderer
func (s *Sync) Name() string { return "sync" }

// PreRender implements ImagePreRenderer
func (s *Sync) PreRender(ctx context.Context, imgs []image.Image, t Target) ([]*Bitmap, error) {
	out := make([]*Bitmap, 0, len(imgs))
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			ReleaseAll(out)
			return nil, err
		}
		b, err := renderOne(s.reg, img, t)
		if err != nil {
			ReleaseAll(out)
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, b)
		runtime.Gosched()
	}
	return out, nil
}

// Pool renders on a fixed number of worker goroutines.
type Pool struct {
	reg     *Registry
	workers int
}

// NewPool creates a pool renderer
func NewPool(reg *Registry, workers int) *Pool {
	return &Pool{reg: reg, workers: max(1, workers)}
}

// Name implements ImagePreRenderer
func (p *Pool) Name() string { return "pool" }

// PreRender implements ImagePreRenderer
func (p *Pool) PreRender(ctx context.Context, imgs []image.Image, t Target) ([]*Bitmap, error) {
	out := make([]*Bitmap, len(imgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, img := range imgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := renderOne(p.reg, img, t)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		ReleaseAll(out)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		ReleaseAll(out)
		return nil, err
	}
	return out, nil
}

func renderOne(reg *Registry, img image.Image, t Target) (*Bitmap, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	src := img
	if small, ok := SourceSize(bounds.Dx(), bounds.Dy(), t.Budget.MaxSource); ok {
		src = resize.Resize(uint(small.W), uint(small.H), img, resize.Bilinear)
	}

	size := Plan(bounds.Dx(), bounds.Dy(), t.Width, t.Height, t.Budget)
	b := reg.alloc(size.W, size.H)
	draw.CatmullRom.Scale(b.Img, b.Img.Bounds(), src, src.Bounds(), draw.Src, nil)
	return b, nil
}
