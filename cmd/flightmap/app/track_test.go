package app

import (
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

func ptr[T any](v T) *T {
	return &v
}

func sample(ts time.Time, lat, lon, alt, speed float64) *telemetry.Telemetry {
	return &telemetry.Telemetry{
		Timestamp: ts,
		Latitude:  ptr(lat),
		Longitude: ptr(lon),
		Altitude:  ptr(alt),
		Speed:     ptr(speed),
	}
}

func TestHaversine(t *testing.T) {
	a := TrackPoint{Latitude: 51, Longitude: 0}
	b := TrackPoint{Latitude: 52, Longitude: 0}

	// one degree of latitude
	if d := haversine(a, b); math.Abs(d-111195) > 10 {
		t.Errorf("haversine() = %f, want about 111195", d)
	}
	if d := haversine(a, a); d != 0 {
		t.Errorf("haversine(a, a) = %f", d)
	}
}

func TestTrackData_Update(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewTrackData(nil)

	d.Update(nil)
	d.Update(&telemetry.Telemetry{Timestamp: start})
	d.Update(sample(start, 0, 0, 0, 0))
	d.Update(sample(start.Add(time.Second), 51.5, -0.1, 10, 2))
	d.Update(sample(start.Add(2*time.Second), 51.501, -0.1, 30, 6))
	d.Update(sample(start.Add(3*time.Second), 51.501, -0.099, 20, 4))

	if d.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", d.Skipped)
	}
	if len(d.Points) != 3 {
		t.Fatalf("len(Points) = %d, want 3", len(d.Points))
	}
	if d.LatitudeMin != 51.5 || d.LatitudeMax != 51.501 || d.LongitudeMin != -0.1 || d.LongitudeMax != -0.099 {
		t.Errorf("position bounds = %f..%f, %f..%f", d.LatitudeMin, d.LatitudeMax, d.LongitudeMin, d.LongitudeMax)
	}
	if got := d.Bounds(MetricAltitude); got != (ValueBounds{Min: 10, Max: 30}) {
		t.Errorf("Bounds(altitude) = %+v", got)
	}
	if got := d.Bounds(MetricSpeed); got != (ValueBounds{Min: 0, Max: 6}) {
		t.Errorf("Bounds(speed) = %+v", got)
	}
	if d.Duration() != 2*time.Second {
		t.Errorf("Duration() = %v", d.Duration())
	}

	// 0.001 degrees of latitude plus 0.001 degrees of longitude at 51.5N
	if d.Distance < 179 || d.Distance > 182 {
		t.Errorf("Distance = %f, want about 180.4", d.Distance)
	}
}

func TestTrackData_MissingAltitude(t *testing.T) {
	d := NewTrackData(nil)
	d.Update(&telemetry.Telemetry{Timestamp: time.Now(), Latitude: ptr(1.0), Longitude: ptr(2.0)})

	if len(d.Points) != 1 || d.Points[0].Altitude != 0 || d.Points[0].Speed != 0 {
		t.Errorf("Points = %+v", d.Points)
	}
	if got := NewTrackData(nil).Bounds(MetricAltitude); got != (ValueBounds{}) {
		t.Errorf("empty Bounds() = %+v", got)
	}
}
