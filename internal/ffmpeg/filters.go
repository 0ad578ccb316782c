package ffmpeg

import (
	"fmt"
	"strings"
)

// Chain is a -vf filter chain. The zero value is empty and ready to use.
type Chain struct {
	parts []string
}

// Fit scales into w x h. Non-positive sizes are ignored.
func (c *Chain) Fit(w, h int) *Chain {
	if w > 0 && h > 0 {
		c.parts = append(c.parts, fmt.Sprintf("scale=%d:%d", w, h))
	}
	return c
}

// EvenSize trims odd widths and heights; yuv420p encoders reject them.
func (c *Chain) EvenSize() *Chain {
	c.parts = append(c.parts, "scale=trunc(iw/2)*2:trunc(ih/2)*2")
	return c
}

// Pix forces a pixel format
func (c *Chain) Pix(format string) *Chain {
	if format != "" {
		c.parts = append(c.parts, "format="+format)
	}
	return c
}

// Raw appends filters verbatim, skipping empty ones.
func (c *Chain) Raw(filters ...string) *Chain {
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			c.parts = append(c.parts, f)
		}
	}
	return c
}

func (c *Chain) String() string {
	return strings.Join(c.parts, ",")
}

// MP4Filters is what H.264 players expect from a recorded canvas.
func MP4Filters() []string {
	var c Chain
	return c.EvenSize().Pix("yuv420p").parts
}
