package subtitle

import (
	"fmt"
	"os"

	"github.com/golang/freetype/truetype"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

// LoadFont parses a TrueType file. An empty path returns Go Bold.
func LoadFont(path string) (*truetype.Font, error) {
	if path == "" {
		return truetype.Parse(gobold.TTF)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return f, nil
}

// Face returns a face of size px from the configured font, falling back to
// Go Bold when it cannot be loaded.
func Face(logger zerolog.Logger, path string, px float64) (font.Face, error) {
	f, err := LoadFont(path)
	if err != nil && path != "" {
		logger.Warn().Err(err).Str("font", path).Msg("Subtitle font unavailable, using Go Bold")
		f, err = LoadFont("")
	}
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{
		Size:    px,
		DPI:     72,
		Hinting: font.HintingFull,
	}), nil
}

// FaceMeasurer measures with a font face.
type FaceMeasurer struct {
	Face font.Face
}

// Measure implements Measurer
func (m FaceMeasurer) Measure(s string) float64 {
	return float64(font.MeasureString(m.Face, s)) / 64
}
