package app

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/roman-kulish/ground-station/internal/storage"
)

func testTrack(session *storage.Session) *TrackData {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewTrackData(session)
	for i := range 20 {
		f := float64(i)
		d.Update(sample(start.Add(time.Duration(i)*time.Second), 51.5+f*0.0001, -0.1+f*0.00005, 5+f, f/2))
	}
	return d
}

func TestTrackRenderer_EmptyTrack(t *testing.T) {
	_, err := NewTrackRenderer(RenderConfig{}).Render(NewTrackData(nil))
	if !errors.Is(err, ErrEmptyTrack) {
		t.Errorf("Render() error = %v, want ErrEmptyTrack", err)
	}
}

func TestTrackRenderer_Render(t *testing.T) {
	track := testTrack(&storage.Session{ID: "abc", VehicleType: "PX4 QUADROTOR", Connection: "udp://:14550"})
	config := RenderConfig{Width: 400, ColorTheme: ThermalTheme, Location: time.UTC}

	img, err := NewTrackRenderer(config).Render(track)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	b := img.Bounds()
	if b.Dx() != 400+defaultLeftBorder+defaultRightBorder {
		t.Errorf("width = %d", b.Dx())
	}

	proj := newProjection(track, 400)
	origin := b.Min.Add(image.Pt(defaultLeftBorder, defaultTopBorder))
	first := origin.Add(proj.point(track.Points[0]))
	last := origin.Add(proj.point(track.Points[len(track.Points)-1]))
	if got := rgba(img.At(first.X, first.Y)); got != startColor {
		t.Errorf("start marker = %v, want %v", got, startColor)
	}
	if got := rgba(img.At(last.X, last.Y)); got != endColor {
		t.Errorf("end marker = %v, want %v", got, endColor)
	}

	plain, err := NewTrackRenderer(RenderConfig{Width: 400, NoAnnotations: true}).Render(track)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if plain.Bounds().Dy() >= b.Dy() {
		t.Errorf("height without annotations = %d, with = %d", plain.Bounds().Dy(), b.Dy())
	}
	if plain.Bounds().Dy() != proj.height+defaultTopBorder+defaultBottomBorder {
		t.Errorf("height = %d, want %d", plain.Bounds().Dy(), proj.height+defaultTopBorder+defaultBottomBorder)
	}
}

func TestProjection_AspectLimit(t *testing.T) {
	d := NewTrackData(nil)
	now := time.Now()
	d.Update(sample(now, 10, 20, 0, 0))
	d.Update(sample(now.Add(time.Second), 11, 20, 0, 0))

	p := newProjection(d, 300)
	if p.height > int(300*maxAspect)+1 {
		t.Errorf("height = %d, want at most %d", p.height, int(300*maxAspect))
	}
	if p.offsetX <= 0 {
		t.Errorf("offsetX = %d, want the map centered", p.offsetX)
	}

	top := p.point(d.Points[1])
	bottom := p.point(d.Points[0])
	if top.Y >= bottom.Y || top.X != bottom.X {
		t.Errorf("north = %v, south = %v", top, bottom)
	}
}
