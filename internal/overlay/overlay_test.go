package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

func ptr[T any](v T) *T {
	return &v
}

func TestLines(t *testing.T) {
	got := Lines(&telemetry.Telemetry{
		Altitude:         ptr(12.34),
		Speed:            ptr(3.0),
		BatteryVoltage:   ptr(12.6),
		BatteryRemaining: ptr(0.8),
		FlightMode:       ptr("Hold"),
		Armed:            ptr(true),
		FixType:          ptr("Fix3D"),
		Satellites:       ptr(int64(11)),
	})

	want := []string{
		"ALT 12.3 m",
		"SPD 3 m/s",
		"BAT 12.6 V 80%",
		"MODE Hold ARMED",
		"GPS Fix3D 11 sats",
	}
	if len(got) != len(want) {
		t.Fatalf("Lines() = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Lines()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLines_Unknown(t *testing.T) {
	got := Lines(&telemetry.Telemetry{BatteryRemaining: ptr(-1.0)})
	want := []string{"ALT --", "SPD --", "BAT -- --%", "MODE --", "GPS -- -- sats"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Lines()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := Lines(nil); len(got) != 1 || got[0] != "NO LINK" {
		t.Errorf("Lines(nil) = %q", got)
	}
}

func TestAnnotator_DrawLines(t *testing.T) {
	a, err := NewAnnotator(WithFontSize(14), WithColor(color.White))
	if err != nil {
		t.Fatalf("NewAnnotator() error = %v", err)
	}
	defer a.Close()

	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	if err := a.DrawLines(img, image.Pt(4, 4), []string{"ALT 10 m", "SPD 2 m/s"}); err != nil {
		t.Fatalf("DrawLines() error = %v", err)
	}

	if !hasInk(img) {
		t.Error("DrawLines() left the image blank")
	}

	block := a.TextBlock([]string{"short", "a longer line"})
	if block.X != a.MeasureString("a longer line") {
		t.Errorf("TextBlock().X = %d, want width of the longest line", block.X)
	}
	if block.Y <= a.LineHeight() {
		t.Errorf("TextBlock().Y = %d, want more than one line height %d", block.Y, a.LineHeight())
	}
}

type staticProvider struct{ t *telemetry.Telemetry }

func (p staticProvider) Get() *telemetry.Telemetry { return p.t }

func TestOSD(t *testing.T) {
	a, err := NewAnnotator()
	if err != nil {
		t.Fatalf("NewAnnotator() error = %v", err)
	}
	defer a.Close()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 320, 240)), nil); err != nil {
		t.Fatal(err)
	}

	hook := OSD(staticProvider{&telemetry.Telemetry{Altitude: ptr(5.0)}}, a, 0)
	out := hook(buf.Bytes())

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding OSD frame: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 320, 240) {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if !hasInk(img) {
		t.Error("OSD frame has no text")
	}

	garbage := []byte("not a jpeg")
	if got := hook(garbage); !bytes.Equal(got, garbage) {
		t.Error("undecodable frame was modified")
	}
}

func hasInk(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > 0x8000 {
				return true
			}
		}
	}
	return false
}
