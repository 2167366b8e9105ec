package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi             = 72.0
	defaultFontSize = 16.0
	defaultSpacing  = 1.2
)

// WithFontSize sets the font size in points
func WithFontSize(size float64) func(*Annotator) {
	return func(a *Annotator) {
		if size > 0 {
			a.size = size
		}
	}
}

// WithColor sets the text colour
func WithColor(c color.Color) func(*Annotator) {
	return func(a *Annotator) {
		a.color = c
	}
}

// Annotator draws text onto images. A single annotator may be shared; drawing
// is serialized.
type Annotator struct {
	mu      sync.Mutex
	context *freetype.Context
	face    font.Face
	size    float64
	spacing float64
	color   color.Color
}

func NewAnnotator(options ...func(*Annotator)) (*Annotator, error) {
	a := &Annotator{
		size:    defaultFontSize,
		spacing: defaultSpacing,
		color:   color.White,
	}

	for _, option := range options {
		option(a)
	}

	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(a.size)
	context.SetSrc(image.NewUniform(a.color))
	context.SetHinting(font.HintingFull)

	a.context = context
	a.face = truetype.NewFace(parsedFont, &truetype.Options{
		Size:    a.size,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})

	return a, nil
}

// LineHeight returns the distance between baselines in pixels
func (a *Annotator) LineHeight() int {
	return a.context.PointToFixed(a.size * a.spacing).Round()
}

// Ascent returns the height above the baseline in pixels
func (a *Annotator) Ascent() int {
	return a.face.Metrics().Ascent.Round()
}

// MeasureString returns the advance width of s in pixels
func (a *Annotator) MeasureString(s string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return font.MeasureString(a.face, s).Round()
}

// DrawLines draws lines top-down. origin is the top-left corner of the first line.
func (a *Annotator) DrawLines(img draw.Image, origin image.Point, lines []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	pt := freetype.Pt(origin.X, origin.Y+a.face.Metrics().Ascent.Round())
	for _, line := range lines {
		if _, err := a.context.DrawString(line, pt); err != nil {
			return fmt.Errorf("drawing %q: %w", line, err)
		}
		pt.Y += a.context.PointToFixed(a.size * a.spacing)
	}

	return nil
}

// DrawString draws s with its baseline-left at pt
func (a *Annotator) DrawString(img draw.Image, pt image.Point, s string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if _, err := a.context.DrawString(s, freetype.Pt(pt.X, pt.Y)); err != nil {
		return fmt.Errorf("drawing %q: %w", s, err)
	}
	return nil
}

// TextBlock returns the size of the block DrawLines would cover
func (a *Annotator) TextBlock(lines []string) image.Point {
	var width int
	for _, line := range lines {
		if w := a.MeasureString(line); w > width {
			width = w
		}
	}
	if len(lines) == 0 {
		return image.Point{}
	}
	return image.Pt(width, a.Ascent()+(len(lines)-1)*a.LineHeight()+a.face.Metrics().Descent.Round())
}

func (a *Annotator) Close() error {
	if a.face != nil {
		return a.face.Close()
	}
	return nil
}
