package telemetry

import (
	"time"
)

type Provider interface {
	Get() *Telemetry
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func() *Telemetry

func (f ProviderFunc) Get() *Telemetry {
	return f()
}

// Telemetry is a flattened point-in-time record of the vehicle state. Fields the
// vehicle has not reported yet are nil.
type Telemetry struct {
	Timestamp        time.Time `json:"timestamp"`                  // Timestamp of telemetry measurement
	Latitude         *float64  `json:"latitude,omitempty"`         // GPS latitude in degrees
	Longitude        *float64  `json:"longitude,omitempty"`        // GPS longitude in degrees
	Altitude         *float64  `json:"altitude,omitempty"`         // Altitude above home in meters
	AbsoluteAltitude *float64  `json:"absoluteAltitude,omitempty"` // Altitude above mean sea level in meters
	Roll             *float64  `json:"roll,omitempty"`             // Roll angle in degrees
	Pitch            *float64  `json:"pitch,omitempty"`            // Pitch angle in degrees
	Yaw              *float64  `json:"yaw,omitempty"`              // Yaw angle in degrees
	Heading          *float64  `json:"heading,omitempty"`          // Heading in degrees
	Speed            *float64  `json:"speed,omitempty"`            // Total speed in m/s
	Airspeed         *float64  `json:"airspeed,omitempty"`         // Airspeed in m/s
	ClimbRate        *float64  `json:"climbRate,omitempty"`        // Climb rate in m/s
	Throttle         *float64  `json:"throttle,omitempty"`         // Throttle in percent
	BatteryVoltage   *float64  `json:"batteryVoltage,omitempty"`   // Battery voltage in volts
	BatteryRemaining *float64  `json:"batteryRemaining,omitempty"` // Remaining battery, 0..1
	Satellites       *int64    `json:"satellites,omitempty"`       // Visible GPS satellites
	FixType          *string   `json:"fixType,omitempty"`          // GPS fix type
	FlightMode       *string   `json:"flightMode,omitempty"`       // Flight mode name
	Armed            *bool     `json:"armed,omitempty"`            // Motors armed
	RadioRSSI        *int64    `json:"radioRSSI,omitempty"`        // RC signal strength in percent
}

func ptr[T any](v T) *T {
	return &v
}

// Get implements Provider
func (h *Handler) Get() *Telemetry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := h.snapshot
	t := Telemetry{Timestamp: s.UpdatedAt}

	if h.received&hasPosition != 0 {
		t.Latitude = ptr(s.Position.LatitudeDeg)
		t.Longitude = ptr(s.Position.LongitudeDeg)
		t.Altitude = ptr(float64(s.Position.RelativeAltitudeM))
		t.AbsoluteAltitude = ptr(float64(s.Position.AbsoluteAltitudeM))
	}
	if h.received&hasHeading != 0 {
		t.Heading = ptr(s.Heading.HeadingDeg)
	}
	if h.received&hasAttitude != 0 {
		t.Roll = ptr(float64(s.Attitude.RollDeg))
		t.Pitch = ptr(float64(s.Attitude.PitchDeg))
		t.Yaw = ptr(float64(s.Attitude.YawDeg))
	}
	if h.received&hasSpeed != 0 {
		t.Speed = ptr(s.TotalSpeed)
	}
	if h.received&hasFixedwing != 0 {
		t.Airspeed = ptr(float64(s.Fixedwing.AirspeedMS))
		t.ClimbRate = ptr(float64(s.Fixedwing.ClimbRateMS))
		t.Throttle = ptr(float64(s.Fixedwing.ThrottlePercentage))
	}
	if h.received&hasBattery != 0 {
		t.BatteryVoltage = ptr(float64(s.Battery.VoltageV))
		if s.Battery.RemainingPercent >= 0 {
			t.BatteryRemaining = ptr(float64(s.Battery.RemainingPercent))
		}
	}
	if h.received&hasGps != 0 {
		t.Satellites = ptr(int64(s.GpsInfo.NumSatellites))
		t.FixType = ptr(s.GpsInfo.FixType.String())
	}
	if h.received&hasHeartbeat != 0 {
		t.FlightMode = ptr(s.FlightMode.String())
		t.Armed = ptr(s.Armed)
	}
	if h.received&hasRc != 0 && s.RcStatus.IsAvailable {
		t.RadioRSSI = ptr(int64(s.RcStatus.SignalStrengthPercent))
	}

	return &t
}
