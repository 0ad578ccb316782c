package prerender

import (
	"image"
	"sync"
	"sync/atomic"
)

// Registry counts live bitmaps so leaks show up in tests and logs.
type Registry struct {
	live atomic.Int64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Live returns the number of unreleased bitmaps
func (r *Registry) Live() int64 {
	return r.live.Load()
}

// Bitmap is an owned pre-rendered image. The owner must call Release.
type Bitmap struct {
	Img  *image.RGBA
	W, H int

	once sync.Once
	reg  *Registry
}

func (r *Registry) alloc(w, h int) *Bitmap {
	r.live.Add(1)
	return &Bitmap{
		Img: image.NewRGBA(image.Rect(0, 0, w, h)),
		W:   w,
		H:   h,
		reg: r,
	}
}

// Release frees the pixels. Safe to call more than once or on nil.
func (b *Bitmap) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		b.Img = nil
		if b.reg != nil {
			b.reg.live.Add(-1)
		}
	})
}

// Released reports whether Release has run
func (b *Bitmap) Released() bool {
	return b == nil || b.Img == nil
}

// ReleaseAll releases every bitmap in bs
func ReleaseAll(bs []*Bitmap) {
	for _, b := range bs {
		b.Release()
	}
}
