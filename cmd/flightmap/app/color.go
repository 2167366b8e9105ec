package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme represents a predefined color scheme for the track.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Dark gray to black transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256
)

var colorThemes = map[ColorTheme]func(float64) color.Color{
	ClassicTheme: func(v float64) color.Color {
		return colorful.Hsv(240-(v*240), 0.9+(v*0.1), 0.5+(math.Pow(v, 0.7)*0.5)).Clamped()
	},
	GrayscaleTheme: func(v float64) color.Color {
		g := uint8((1 - math.Pow(v, 0.7)) * 160)
		return color.RGBA{R: g, G: g, B: g, A: 0xff}
	},
	JungleTheme: func(v float64) color.Color {
		return colorful.Hsv(120-(v*60), 1, 0.3+(math.Pow(v, 0.6)*0.7)).Clamped()
	},
	ThermalTheme: func(v float64) color.Color {
		switch {
		case v < 0.33:
			return color.RGBA{R: uint8((0.2 + v*2.4) * 255), A: 0xff}
		case v < 0.66:
			return color.RGBA{R: 0xff, G: uint8(((v - 0.33) * 3) * 255), A: 0xff}
		default:
			return color.RGBA{R: 0xff, G: 0xff, B: uint8(math.Min(1, (v-0.66)*3) * 255), A: 0xff}
		}
	},
	MarineTheme: func(v float64) color.Color {
		return colorful.Hsv(240-(v*60), 1-(v*0.8), 0.3+(math.Pow(v, 0.6)*0.7)).Clamped()
	},
}

func isColorTheme(s string) bool {
	_, ok := colorThemes[ColorTheme(s)]
	return ok
}

// ValueBounds is the range of the value the track is colored by
type ValueBounds struct {
	Min float64
	Max float64
}

// ColorMapper maps values within bounds to theme colors through a
// pre-computed lookup table
type ColorMapper struct {
	colorMap      []color.Color
	theme         ColorTheme
	bounds        ValueBounds
	valuePerIndex float64
}

// NewColorMapper creates a color mapper for theme. Unknown themes fall back to
// the classic theme.
func NewColorMapper(theme ColorTheme, bounds ValueBounds) *ColorMapper {
	fn, ok := colorThemes[theme]
	if !ok {
		theme = ClassicTheme
		fn = colorThemes[ClassicTheme]
	}

	cm := &ColorMapper{
		colorMap: make([]color.Color, DefaultColorMapSize),
		theme:    theme,
	}
	for i := range cm.colorMap {
		cm.colorMap[i] = fn(float64(i) / float64(DefaultColorMapSize-1))
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds sets the value range. An empty range maps every value to the
// middle of the scale.
func (cm *ColorMapper) UpdateBounds(bounds ValueBounds) {
	cm.bounds = bounds
	cm.valuePerIndex = (bounds.Max - bounds.Min) / float64(len(cm.colorMap)-1)
}

// GetColor returns the color of v
func (cm *ColorMapper) GetColor(v float64) color.Color {
	if cm.valuePerIndex <= 0 || math.IsNaN(v) {
		return cm.colorMap[len(cm.colorMap)/2]
	}

	index := int((v - cm.bounds.Min) / cm.valuePerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= len(cm.colorMap) {
		return cm.colorMap[len(cm.colorMap)-1]
	}
	return cm.colorMap[index]
}

// Gradient returns the color at fraction f of the scale, for the legend
func (cm *ColorMapper) Gradient(f float64) color.Color {
	index := int(math.Round(math.Max(0, math.Min(1, f)) * float64(len(cm.colorMap)-1)))
	return cm.colorMap[index]
}

func (cm *ColorMapper) Theme() ColorTheme {
	return cm.theme
}

func (cm *ColorMapper) Bounds() ValueBounds {
	return cm.bounds
}
