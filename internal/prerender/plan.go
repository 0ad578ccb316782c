// Package prerender scales decoded images once into bitmaps large enough
// for the whole zoom/pan animation.
package prerender

import "math"

// MaxScale is the zoom headroom every bitmap is rendered with.
const MaxScale = 1.15

// Budget caps source and pre-rendered sizes (longest side, pixels).
type Budget struct {
	MaxSource int
	MaxPre    int
}

// Default budgets.
var (
	NormalBudget  = Budget{MaxSource: 1280, MaxPre: 2560}
	LowSpecBudget = Budget{MaxSource: 800, MaxPre: 1600}
)

// Target is the canvas the bitmaps will be drawn on.
type Target struct {
	Width  int
	Height int
	Budget Budget
}

// Size is a pixel size.
type Size struct {
	W, H int
}

// Plan returns the cover-fit pre-render size for an imgW×imgH image on a
// canvasW×canvasH canvas, enlarged by MaxScale and capped by the budget.
func Plan(imgW, imgH, canvasW, canvasH int, budget Budget) Size {
	if imgW <= 0 || imgH <= 0 || canvasW <= 0 || canvasH <= 0 {
		return Size{1, 1}
	}

	imgRatio := float64(imgW) / float64(imgH)
	canvasRatio := float64(canvasW) / float64(canvasH)

	var drawW, drawH float64
	if imgRatio > canvasRatio {
		drawH = float64(canvasH)
		drawW = drawH * imgRatio
	} else {
		drawW = float64(canvasW)
		drawH = drawW / imgRatio
	}

	drawW *= MaxScale
	drawH *= MaxScale

	if limit := float64(budget.MaxPre); limit > 0 && math.Max(drawW, drawH) > limit {
		if drawW >= drawH {
			drawH = drawH * limit / drawW
			drawW = limit
		} else {
			drawW = drawW * limit / drawH
			drawH = limit
		}
	}

	return Size{
		W: max(1, int(math.Ceil(drawW))),
		H: max(1, int(math.Ceil(drawH))),
	}
}

// SourceSize returns the size a source image is first reduced to so its
// longest side fits maxSource. Zero means leave it alone.
func SourceSize(w, h, maxSource int) (Size, bool) {
	if maxSource <= 0 || (w <= maxSource && h <= maxSource) {
		return Size{w, h}, false
	}
	k := float64(maxSource) / float64(max(w, h))
	return Size{
		W: max(1, int(math.Round(float64(w)*k))),
		H: max(1, int(math.Round(float64(h)*k))),
	}, true
}

// LowSpec reports whether the reduced budget applies: forced by the user,
// or automatic at threshold images or more.
func LowSpec(manual bool, imageCount, threshold int) bool {
	return manual || (threshold > 0 && imageCount >= threshold)
}
