package app

import (
	"math"
	"time"

	"github.com/roman-kulish/ground-station/internal/storage"
	"github.com/roman-kulish/ground-station/internal/telemetry"
)

const earthRadius = 6371008.8 // mean radius in meters

// Metric is the value the track is colored by
type Metric string

const (
	MetricAltitude Metric = "altitude"
	MetricSpeed    Metric = "speed"
)

// TrackPoint is a telemetry sample with a valid position
type TrackPoint struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
	Speed     float64
}

// Value returns the metric of the point
func (p TrackPoint) Value(m Metric) float64 {
	if m == MetricSpeed {
		return p.Speed
	}
	return p.Altitude
}

// TrackData accumulates the position samples of a session
type TrackData struct {
	Session                      *storage.Session
	Points                       []TrackPoint
	LatitudeMin, LatitudeMax     float64
	LongitudeMin, LongitudeMax   float64
	AltitudeMin, AltitudeMax     float64
	SpeedMax                     float64
	Distance                     float64 // meters along the track
	TimestampStart, TimestampEnd time.Time
	Skipped                      int // samples without a position
}

func NewTrackData(session *storage.Session) *TrackData {
	return &TrackData{
		Session:      session,
		LatitudeMin:  math.MaxFloat64,
		LatitudeMax:  -math.MaxFloat64,
		LongitudeMin: math.MaxFloat64,
		LongitudeMax: -math.MaxFloat64,
		AltitudeMin:  math.MaxFloat64,
		AltitudeMax:  -math.MaxFloat64,
	}
}

// Update adds a telemetry sample. Samples without a position, or at 0,0 as sent
// by autopilots before a GPS fix, are skipped.
func (d *TrackData) Update(t *telemetry.Telemetry) {
	if t == nil || t.Latitude == nil || t.Longitude == nil || (*t.Latitude == 0 && *t.Longitude == 0) {
		d.Skipped++
		return
	}

	p := TrackPoint{
		Timestamp: t.Timestamp,
		Latitude:  *t.Latitude,
		Longitude: *t.Longitude,
	}
	if t.Altitude != nil {
		p.Altitude = *t.Altitude
	}
	if t.Speed != nil {
		p.Speed = *t.Speed
	}

	if n := len(d.Points); n > 0 {
		d.Distance += haversine(d.Points[n-1], p)
	}

	d.LatitudeMin = min(d.LatitudeMin, p.Latitude)
	d.LatitudeMax = max(d.LatitudeMax, p.Latitude)
	d.LongitudeMin = min(d.LongitudeMin, p.Longitude)
	d.LongitudeMax = max(d.LongitudeMax, p.Longitude)
	d.AltitudeMin = min(d.AltitudeMin, p.Altitude)
	d.AltitudeMax = max(d.AltitudeMax, p.Altitude)
	d.SpeedMax = max(d.SpeedMax, p.Speed)

	if d.TimestampStart.IsZero() || d.TimestampStart.After(p.Timestamp) {
		d.TimestampStart = p.Timestamp
	}
	if d.TimestampEnd.IsZero() || d.TimestampEnd.Before(p.Timestamp) {
		d.TimestampEnd = p.Timestamp
	}

	d.Points = append(d.Points, p)
}

// Bounds returns the value range of metric m
func (d *TrackData) Bounds(m Metric) ValueBounds {
	if len(d.Points) == 0 {
		return ValueBounds{}
	}
	if m == MetricSpeed {
		return ValueBounds{Min: 0, Max: d.SpeedMax}
	}
	return ValueBounds{Min: d.AltitudeMin, Max: d.AltitudeMax}
}

// Duration returns the time between the first and the last point
func (d *TrackData) Duration() time.Duration {
	return d.TimestampEnd.Sub(d.TimestampStart)
}

// haversine returns the great-circle distance between a and b in meters
func haversine(a, b TrackPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(math.Min(1, h)))
}
