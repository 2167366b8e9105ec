package storage

import (
	"database/sql"
	"time"
)

// Session is one vehicle connection recorded from connect to disconnect
type Session struct {
	ID          string     `json:"id"`                      // Session UUID
	StartTime   time.Time  `json:"startTime"`               // When the vehicle connected
	EndTime     *time.Time `json:"endTime,omitempty"`       // When the vehicle disconnected, nil while recording
	VehicleType string     `json:"vehicleType"`             // Autopilot and frame, e.g. "PX4 quadrotor"
	Connection  string     `json:"connection"`              // Link url the session used
	Config      *string    `json:"config,string,omitempty"` // Optional station configuration in JSON format
}

// Event is a log entry recorded during a session
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type sessionData struct {
	ID          string
	StartTime   time.Time
	EndTime     sql.NullTime
	VehicleType string
	Connection  string
	Config      sql.NullString
}

func (d *sessionData) toSession() *Session {
	s := Session{
		ID:          d.ID,
		StartTime:   d.StartTime,
		VehicleType: d.VehicleType,
		Connection:  d.Connection,
	}
	if d.EndTime.Valid {
		s.EndTime = &d.EndTime.Time
	}
	if d.Config.Valid {
		s.Config = &d.Config.String
	}
	return &s
}

type telemetryData struct {
	SessionID        string
	Timestamp        time.Time
	Latitude         sql.NullFloat64
	Longitude        sql.NullFloat64
	Altitude         sql.NullFloat64
	AbsoluteAltitude sql.NullFloat64
	Roll             sql.NullFloat64
	Pitch            sql.NullFloat64
	Yaw              sql.NullFloat64
	Heading          sql.NullFloat64
	Speed            sql.NullFloat64
	Airspeed         sql.NullFloat64
	ClimbRate        sql.NullFloat64
	Throttle         sql.NullFloat64
	BatteryVoltage   sql.NullFloat64
	BatteryRemaining sql.NullFloat64
	Satellites       sql.NullInt64
	FixType          sql.NullString
	FlightMode       sql.NullString
	Armed            sql.NullBool
	RadioRSSI        sql.NullInt64
}
