package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

const (
	DefaultQuality = 80

	osdMargin  = 8
	osdPadding = 6
)

var osdBackground = color.NRGBA{A: 0x99}

// Lines formats the on-screen display rows for t. Unknown values are shown
// as dashes.
func Lines(t *telemetry.Telemetry) []string {
	if t == nil {
		return []string{"NO LINK"}
	}

	return []string{
		"ALT " + formatFloat(t.Altitude, " m"),
		"SPD " + formatFloat(t.Speed, " m/s"),
		"BAT " + formatFloat(t.BatteryVoltage, " V") + " " + formatPercent(t.BatteryRemaining),
		"MODE " + formatString(t.FlightMode) + armedSuffix(t.Armed),
		"GPS " + formatString(t.FixType) + " " + formatSatellites(t.Satellites),
	}
}

func formatFloat(v *float64, unit string) string {
	if v == nil {
		return "--"
	}
	return humanize.FtoaWithDigits(*v, 1) + unit
}

func formatPercent(v *float64) string {
	if v == nil || *v < 0 {
		return "--%"
	}
	return fmt.Sprintf("%.0f%%", *v*100)
}

func formatString(v *string) string {
	if v == nil {
		return "--"
	}
	return *v
}

func formatSatellites(v *int64) string {
	if v == nil {
		return "-- sats"
	}
	return humanize.Comma(*v) + " sats"
}

func armedSuffix(v *bool) string {
	if v != nil && *v {
		return " ARMED"
	}
	return ""
}

// Draw renders the display block in the top-left corner of img
func (a *Annotator) Draw(img draw.Image, lines []string) error {
	block := a.TextBlock(lines)
	origin := img.Bounds().Min.Add(image.Pt(osdMargin, osdMargin))

	box := image.Rectangle{
		Min: origin,
		Max: origin.Add(block).Add(image.Pt(2*osdPadding, 2*osdPadding)),
	}
	draw.Draw(img, box, image.NewUniform(osdBackground), image.Point{}, draw.Over)

	return a.DrawLines(img, origin.Add(image.Pt(osdPadding, osdPadding)), lines)
}

// OSD returns a JPEG frame hook drawing the current telemetry of provider onto
// every frame. Frames that cannot be decoded are passed through unchanged.
func OSD(provider telemetry.Provider, annotator *Annotator, quality int) func([]byte) []byte {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	return func(frame []byte) []byte {
		src, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return frame
		}

		img := image.NewRGBA(src.Bounds())
		draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

		if err := annotator.Draw(img, Lines(provider.Get())); err != nil {
			return frame
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return frame
		}
		return buf.Bytes()
	}
}
