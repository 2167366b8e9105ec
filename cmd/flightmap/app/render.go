package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ground-station/internal/overlay"
)

var ErrEmptyTrack = errors.New("track has no positions")

const (
	fontSize       = 14.0
	trackThickness = 2
	markerRadius   = 5
	legendHeight   = 12
	legendWidth    = 256
	textPadding    = 10

	// Fraction of the track extent left empty around it
	mapPadding = 0.05
	// Smallest extent of the map in degrees, about 50m
	minSpan = 0.00045
	// Maximum height to width ratio of the map area
	maxAspect = 2.0

	// Default border sizes in pixels
	defaultTopBorder    = 20
	defaultLeftBorder   = 20
	defaultBottomBorder = 20
	defaultRightBorder  = 20

	defaultDatetimeFormat = time.DateTime
)

var (
	backgroundColor = color.White
	mapColor        = color.RGBA{R: 0xf2, G: 0xf2, B: 0xee, A: 0xff}
	gridColor       = color.RGBA{R: 0xdd, G: 0xdd, B: 0xd8, A: 0xff}
	startColor      = color.RGBA{R: 0x2e, G: 0xcc, B: 0x71, A: 0xff}
	endColor        = color.RGBA{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff}
	markerEdge      = color.Black
)

// BorderConfig defines the sizes of white space around the map
type BorderConfig struct {
	Top    int
	Left   int
	Bottom int // Space for the legend and the information bar
	Right  int
}

// RenderConfig holds all configuration options for track visualization
type RenderConfig struct {
	Width          int            // Width of the map area in pixels
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	FontSize      float64
	ColorTheme    ColorTheme
	ColorBy       Metric
	NoAnnotations bool

	BorderConfig BorderConfig
}

// TrackRenderer draws a flight track onto a map area with a legend and an
// information bar below it
type TrackRenderer struct {
	config RenderConfig
}

func NewTrackRenderer(config RenderConfig) *TrackRenderer {
	if config.Width <= 0 {
		config.Width = defaultWidth
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.ColorBy == "" {
		config.ColorBy = MetricAltitude
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &TrackRenderer{config: config}
}

// Render creates an image of the track with annotations
func (r *TrackRenderer) Render(track *TrackData) (*image.RGBA, error) {
	if len(track.Points) == 0 {
		return nil, ErrEmptyTrack
	}

	var ann *overlay.Annotator
	borders := r.config.BorderConfig
	if !r.config.NoAnnotations {
		var err error
		ann, err = overlay.NewAnnotator(overlay.WithFontSize(r.config.FontSize), overlay.WithColor(color.Black))
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		borders.Bottom = max(borders.Bottom, 3*textPadding+legendHeight+5*ann.LineHeight())
	}

	proj := newProjection(track, r.config.Width)
	fullWidth := proj.width + borders.Left + borders.Right
	fullHeight := proj.height + borders.Top + borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	area := image.Rect(borders.Left, borders.Top, borders.Left+proj.width, borders.Top+proj.height)
	draw.Draw(img, area, image.NewUniform(mapColor), image.Point{}, draw.Src)
	drawGrid(img, area)

	colorMap := NewColorMapper(r.config.ColorTheme, track.Bounds(r.config.ColorBy))
	r.renderTrack(img, area.Min, proj, track, colorMap)

	if ann != nil {
		if err := r.annotate(img, ann, area, track, colorMap); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

func (r *TrackRenderer) renderTrack(img *image.RGBA, origin image.Point, proj projection, track *TrackData, colorMap *ColorMapper) {
	points := track.Points
	for i := 1; i < len(points); i++ {
		a := origin.Add(proj.point(points[i-1]))
		b := origin.Add(proj.point(points[i]))
		value := (points[i-1].Value(r.config.ColorBy) + points[i].Value(r.config.ColorBy)) / 2
		drawLine(img, a, b, trackThickness, colorMap.GetColor(value))
	}

	first := origin.Add(proj.point(points[0]))
	last := origin.Add(proj.point(points[len(points)-1]))
	drawMarker(img, first, startColor)
	drawMarker(img, last, endColor)
}

func (r *TrackRenderer) annotate(img *image.RGBA, ann *overlay.Annotator, area image.Rectangle, track *TrackData, colorMap *ColorMapper) error {
	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing legend", func() error { return r.drawLegend(img, ann, area, colorMap) }},
		{"drawing info", func() error { return r.drawInfo(img, ann, area, track) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (r *TrackRenderer) drawLegend(img *image.RGBA, ann *overlay.Annotator, area image.Rectangle, colorMap *ColorMapper) error {
	bar := image.Rect(area.Min.X, area.Max.Y+textPadding, area.Min.X+legendWidth, area.Max.Y+textPadding+legendHeight)
	for x := bar.Min.X; x < bar.Max.X; x++ {
		c := colorMap.Gradient(float64(x-bar.Min.X) / float64(bar.Dx()-1))
		for y := bar.Min.Y; y < bar.Max.Y; y++ {
			img.Set(x, y, c)
		}
	}

	bounds := colorMap.Bounds()
	unit := "m"
	if r.config.ColorBy == MetricSpeed {
		unit = "m/s"
	}

	baseline := bar.Max.Y + ann.Ascent() + 2
	minLabel := fmt.Sprintf("%s %s", humanize.FtoaWithDigits(bounds.Min, 1), unit)
	maxLabel := fmt.Sprintf("%s %s", humanize.FtoaWithDigits(bounds.Max, 1), unit)

	if err := ann.DrawString(img, image.Pt(bar.Min.X, baseline), minLabel); err != nil {
		return err
	}
	if err := ann.DrawString(img, image.Pt(bar.Max.X-ann.MeasureString(maxLabel), baseline), maxLabel); err != nil {
		return err
	}
	return ann.DrawString(img, image.Pt(bar.Max.X+textPadding, bar.Max.Y), string(r.config.ColorBy))
}

func (r *TrackRenderer) drawInfo(img *image.RGBA, ann *overlay.Annotator, area image.Rectangle, track *TrackData) error {
	var lines []string
	if s := track.Session; s != nil {
		lines = append(lines, fmt.Sprintf("Session: %s; Vehicle: %s; Link: %s", s.ID, s.VehicleType, s.Connection))
	}

	lines = append(lines,
		fmt.Sprintf("Time: %s - %s (%s)",
			track.TimestampStart.In(r.config.Location).Format(r.config.DatetimeFormat),
			track.TimestampEnd.In(r.config.Location).Format(r.config.DatetimeFormat),
			track.Duration().Round(time.Second)),
		fmt.Sprintf("Distance: %s; Altitude: %s - %s m; Max speed: %s m/s",
			humanize.SIWithDigits(track.Distance, 2, "m"),
			humanize.FtoaWithDigits(track.AltitudeMin, 1),
			humanize.FtoaWithDigits(track.AltitudeMax, 1),
			humanize.FtoaWithDigits(track.SpeedMax, 1)),
		fmt.Sprintf("Points: %s; Theme: %s", humanize.Comma(int64(len(track.Points))), r.config.ColorTheme))

	origin := image.Pt(area.Min.X, area.Max.Y+2*textPadding+legendHeight+ann.LineHeight())
	return ann.DrawLines(img, origin, lines)
}

// projection maps positions onto the map area with an equirectangular
// projection around the middle latitude of the track
type projection struct {
	lonMin, latMax   float64
	cosLat           float64
	originX, originY float64
	scale            float64
	offsetX          int
	width, height    int
}

func newProjection(d *TrackData, width int) projection {
	p := projection{
		lonMin: d.LongitudeMin,
		latMax: d.LatitudeMax,
		cosLat: math.Cos((d.LatitudeMin + d.LatitudeMax) / 2 * math.Pi / 180),
		width:  width,
	}

	spanX := (d.LongitudeMax - d.LongitudeMin) * p.cosLat
	spanY := d.LatitudeMax - d.LatitudeMin
	extX := max(spanX, minSpan)
	extY := max(spanY, minSpan)
	pad := max(extX, extY) * mapPadding
	extX += 2 * pad
	extY += 2 * pad

	p.originX = (extX - spanX) / 2
	p.originY = (extY - spanY) / 2
	p.scale = float64(width) / extX

	if extY*p.scale > float64(width)*maxAspect {
		p.scale = float64(width) * maxAspect / extY
		p.offsetX = int((float64(width) - extX*p.scale) / 2)
	}
	p.height = int(math.Ceil(extY * p.scale))

	return p
}

// point returns the position of tp relative to the top-left corner of the map area
func (p projection) point(tp TrackPoint) image.Point {
	x := ((tp.Longitude-p.lonMin)*p.cosLat + p.originX) * p.scale
	y := ((p.latMax - tp.Latitude) + p.originY) * p.scale
	return image.Pt(p.offsetX+int(math.Round(x)), int(math.Round(y)))
}

func drawGrid(img *image.RGBA, area image.Rectangle) {
	const step = 64
	for x := area.Min.X + step; x < area.Max.X; x += step {
		for y := area.Min.Y; y < area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
	}
	for y := area.Min.Y + step; y < area.Max.Y; y += step {
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
	}
}

// drawLine draws a line of the given thickness with Bresenham's algorithm
func drawLine(img *image.RGBA, a, b image.Point, thickness int, c color.Color) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}

	half := thickness / 2
	err := dx + dy
	for {
		for ox := -half; ox < thickness-half; ox++ {
			for oy := -half; oy < thickness-half; oy++ {
				img.Set(a.X+ox, a.Y+oy, c)
			}
		}
		if a == b {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			a.X += sx
		}
		if e2 <= dx {
			err += dx
			a.Y += sy
		}
	}
}

func drawMarker(img *image.RGBA, center image.Point, c color.Color) {
	r2 := markerRadius * markerRadius
	inner := (markerRadius - 1) * (markerRadius - 1)
	for y := -markerRadius; y <= markerRadius; y++ {
		for x := -markerRadius; x <= markerRadius; x++ {
			d := x*x + y*y
			switch {
			case d <= inner:
				img.Set(center.X+x, center.Y+y, c)
			case d <= r2:
				img.Set(center.X+x, center.Y+y, markerEdge)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
