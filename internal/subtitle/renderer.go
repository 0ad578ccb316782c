package subtitle

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/kikiluvv/storyreel/internal/timeline"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// DefaultLead shows a subtitle slightly before its sentence starts.
const DefaultLead = 0.12

var (
	plateColor   = color.RGBA{0, 0, 0, 153} // black at 0.6, premultiplied
	outlineColor = color.RGBA{0, 0, 0, 217} // black at 0.85
	textColor    = color.RGBA{255, 255, 255, 255}

	outlineOffsets = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
)

// Layout is the plate geometry for one canvas size.
type Layout struct {
	CanvasW    int
	CanvasH    int
	FontSize   float64
	MaxWidth   float64
	LineHeight float64
	Padding    float64
	BoxWidth   float64
	CenterY    float64
	Radius     float64
}

// NewLayout derives the plate geometry from the canvas
func NewLayout(w, h int) Layout {
	fs := math.Floor(float64(h) * 0.042)
	maxW := float64(w) * 0.88
	pad := fs * 0.7
	return Layout{
		CanvasW:    w,
		CanvasH:    h,
		FontSize:   fs,
		MaxWidth:   maxW,
		LineHeight: fs * 1.35,
		Padding:    pad,
		BoxWidth:   maxW + pad*2,
		CenterY:    float64(h) - float64(h)*0.11,
		Radius:     12,
	}
}

// Plate is a rendered subtitle box and where it goes on the canvas.
type Plate struct {
	Img *image.RGBA
	At  image.Point
}

// Renderer keeps wrapped lines for every subtitle and the last plate it
// drew, so a plate is only rebuilt when the set of active subtitles changes.
type Renderer struct {
	layout Layout
	face   font.Face
	lead   float64

	subs  []timeline.TimedSubtitle
	lines [][]string

	key      string
	plate    *Plate
	rebuilds int
}

// NewRenderer creates a renderer drawing with face. lead <= 0 uses DefaultLead.
func NewRenderer(layout Layout, face font.Face, lead float64) *Renderer {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Renderer{layout: layout, face: face, lead: lead}
}

// Prepare wraps every subtitle once
func (r *Renderer) Prepare(subs []timeline.TimedSubtitle) {
	m := FaceMeasurer{Face: r.face}
	r.subs = subs
	r.lines = make([][]string, len(subs))
	for i, s := range subs {
		r.lines[i] = Wrap(s.Text, r.layout.MaxWidth, m)
	}
	r.key = ""
	r.plate = nil
}

// Lines returns the wrapped lines of subtitle i
func (r *Renderer) Lines(i int) []string {
	if i < 0 || i >= len(r.lines) {
		return nil
	}
	return r.lines[i]
}

// Active returns the indices of subtitles on screen at elapsed. Nothing
// shows outside the voice window; inside it a subtitle appears lead
// seconds early but never before the voice starts.
func (r *Renderer) Active(elapsed float64, tl timeline.Timeline) []int {
	return Active(r.subs, elapsed, tl, r.lead)
}

// Active is Renderer.Active over an explicit subtitle list.
func Active(subs []timeline.TimedSubtitle, elapsed float64, tl timeline.Timeline, lead float64) []int {
	if elapsed < tl.VoiceStart || elapsed >= tl.VoiceEnd {
		return nil
	}
	var out []int
	for i, s := range subs {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		from := math.Max(tl.VoiceStart, s.Start-lead)
		if elapsed >= from && elapsed < s.End {
			out = append(out, i)
		}
	}
	return out
}

// Plate returns the plate for the given subtitles, or nil when there is
// nothing to show.
func (r *Renderer) Plate(indices []int) *Plate {
	var all []string
	for _, i := range indices {
		all = append(all, r.Lines(i)...)
	}
	if len(all) == 0 {
		return nil
	}

	key := joinIndices(indices)
	if key == r.key && r.plate != nil {
		return r.plate
	}
	r.key = key
	r.plate = r.draw(all)
	r.rebuilds++
	return r.plate
}

// Rebuilds counts plate redraws
func (r *Renderer) Rebuilds() int {
	return r.rebuilds
}

func (r *Renderer) draw(lines []string) *Plate {
	l := r.layout
	boxH := float64(len(lines))*l.LineHeight + l.Padding*2
	bx := (float64(l.CanvasW) - l.BoxWidth) / 2
	by := l.CenterY - boxH/2

	w := int(math.Ceil(l.BoxWidth))
	h := int(math.Ceil(boxH))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRoundRect(img, l.Radius, plateColor)

	metrics := r.face.Metrics()
	// baseline that vertically centres a line on its middle
	middle := float64(metrics.Ascent-metrics.Descent) / 64 / 2

	d := &font.Drawer{Dst: img, Face: r.face}
	centreX := float64(w) / 2
	for pass, src := range []color.Color{outlineColor, textColor} {
		d.Src = image.NewUniform(src)
		for i, line := range lines {
			width := float64(d.MeasureString(line)) / 64
			x := centreX - width/2
			y := l.Padding + (float64(i)+0.5)*l.LineHeight + middle
			if pass == 0 {
				for _, off := range outlineOffsets {
					d.Dot = fixed.P(int(math.Round(x))+off[0], int(math.Round(y))+off[1])
					d.DrawString(line)
				}
				continue
			}
			d.Dot = fixed.P(int(math.Round(x)), int(math.Round(y)))
			d.DrawString(line)
		}
	}

	return &Plate{Img: img, At: image.Pt(int(math.Round(bx)), int(math.Round(by)))}
}

// DrawOn composites the plate over dst
func (p *Plate) DrawOn(dst draw.Image) {
	if p == nil || p.Img == nil {
		return
	}
	r := p.Img.Bounds().Add(p.At)
	draw.Draw(dst, r, p.Img, image.Point{}, draw.Over)
}

func fillRoundRect(img *image.RGBA, radius float64, c color.RGBA) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	radius = math.Min(radius, math.Min(w, h)/2)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if insideRounded(float64(x)+0.5, float64(y)+0.5, w, h, radius) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func insideRounded(px, py, w, h, r float64) bool {
	cx := math.Max(r, math.Min(w-r, px))
	cy := math.Max(r, math.Min(h-r, py))
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= r*r
}

func joinIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
