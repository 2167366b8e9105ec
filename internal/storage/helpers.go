package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError rolls back a transaction that was not committed
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toTelemetryData(sessionID string, t *telemetry.Telemetry) *telemetryData {
	return &telemetryData{
		SessionID:        sessionID,
		Timestamp:        t.Timestamp.UTC(),
		Latitude:         toNullFloat64(t.Latitude),
		Longitude:        toNullFloat64(t.Longitude),
		Altitude:         toNullFloat64(t.Altitude),
		AbsoluteAltitude: toNullFloat64(t.AbsoluteAltitude),
		Roll:             toNullFloat64(t.Roll),
		Pitch:            toNullFloat64(t.Pitch),
		Yaw:              toNullFloat64(t.Yaw),
		Heading:          toNullFloat64(t.Heading),
		Speed:            toNullFloat64(t.Speed),
		Airspeed:         toNullFloat64(t.Airspeed),
		ClimbRate:        toNullFloat64(t.ClimbRate),
		Throttle:         toNullFloat64(t.Throttle),
		BatteryVoltage:   toNullFloat64(t.BatteryVoltage),
		BatteryRemaining: toNullFloat64(t.BatteryRemaining),
		Satellites: sql.NullInt64{
			Int64: toSQLNullType[int64](t.Satellites),
			Valid: t.Satellites != nil,
		},
		FixType:    sql.NullString{String: deref(t.FixType), Valid: t.FixType != nil},
		FlightMode: sql.NullString{String: deref(t.FlightMode), Valid: t.FlightMode != nil},
		Armed:      sql.NullBool{Bool: deref(t.Armed), Valid: t.Armed != nil},
		RadioRSSI: sql.NullInt64{
			Int64: toSQLNullType[int64](t.RadioRSSI),
			Valid: t.RadioRSSI != nil,
		},
	}
}

func (d *telemetryData) toTelemetry() *telemetry.Telemetry {
	t := telemetry.Telemetry{
		Timestamp:        d.Timestamp,
		Latitude:         fromNull(d.Latitude.Float64, d.Latitude.Valid),
		Longitude:        fromNull(d.Longitude.Float64, d.Longitude.Valid),
		Altitude:         fromNull(d.Altitude.Float64, d.Altitude.Valid),
		AbsoluteAltitude: fromNull(d.AbsoluteAltitude.Float64, d.AbsoluteAltitude.Valid),
		Roll:             fromNull(d.Roll.Float64, d.Roll.Valid),
		Pitch:            fromNull(d.Pitch.Float64, d.Pitch.Valid),
		Yaw:              fromNull(d.Yaw.Float64, d.Yaw.Valid),
		Heading:          fromNull(d.Heading.Float64, d.Heading.Valid),
		Speed:            fromNull(d.Speed.Float64, d.Speed.Valid),
		Airspeed:         fromNull(d.Airspeed.Float64, d.Airspeed.Valid),
		ClimbRate:        fromNull(d.ClimbRate.Float64, d.ClimbRate.Valid),
		Throttle:         fromNull(d.Throttle.Float64, d.Throttle.Valid),
		BatteryVoltage:   fromNull(d.BatteryVoltage.Float64, d.BatteryVoltage.Valid),
		BatteryRemaining: fromNull(d.BatteryRemaining.Float64, d.BatteryRemaining.Valid),
		Satellites:       fromNull(d.Satellites.Int64, d.Satellites.Valid),
		FixType:          fromNull(d.FixType.String, d.FixType.Valid),
		FlightMode:       fromNull(d.FlightMode.String, d.FlightMode.Valid),
		Armed:            fromNull(d.Armed.Bool, d.Armed.Valid),
		RadioRSSI:        fromNull(d.RadioRSSI.Int64, d.RadioRSSI.Valid),
	}
	return &t
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	return sql.NullFloat64{
		Float64: toSQLNullType[float64](f),
		Valid:   f != nil,
	}
}

func toSQLNullType[T float64 | int64, Y float64 | int | int64](f *Y) T {
	if f == nil {
		return 0
	}
	return T(*f)
}

func deref[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func fromNull[T any](v T, valid bool) *T {
	if !valid {
		return nil
	}
	return &v
}

// sqliteDatetime scans timestamps returned by aggregates such as MIN(timestamp).
// SQLite drops the column type for aggregates, so the driver hands back text
// instead of time.Time.
type sqliteDatetime struct {
	Datetime time.Time
	Valid    bool
}

func (d *sqliteDatetime) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		d.Datetime, d.Valid = time.Time{}, false
		return nil
	case time.Time:
		d.Datetime, d.Valid = v, true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported datetime type %T", value)
	}

	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			d.Datetime, d.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("parsing datetime %q", s)
}
