package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

// ErrNoData indicates that no telemetry exists for the given parameters
var ErrNoData = errors.New("no data available")

// ReaderOption configures a SqliteTrackReader with filtering criteria.
type ReaderOption func(*SqliteTrackReader)

// WithStartTime excludes samples recorded before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		t = t.UTC()
		r.startTime = &t
	}
}

// WithEndTime excludes samples recorded after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		t = t.UTC()
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteTrackReader) {
		startTime, endTime = startTime.UTC(), endTime.UTC()
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

func newSqliteTrackReader(ctx context.Context, db *sql.DB, sessionID string, opts ...ReaderOption) (*SqliteTrackReader, error) {
	tr := &SqliteTrackReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTrackReader implements TrackReader for SQLite database backend.
type SqliteTrackReader struct {
	db *sql.DB

	sessionID string
	session   *Session

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	current *telemetry.Telemetry
	rows    *sql.Rows
	err     error
}

func (tr *SqliteTrackReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.sessionID == "" {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: tr.loadSession},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTrackReader) loadSession(ctx context.Context) (err error) {
	tr.session, err = loadSession(ctx, tr.db, tr.sessionID)
	return
}

func (tr *SqliteTrackReader) initFilters(ctx context.Context) (err error) {
	if tr.startTime != nil && tr.endTime != nil {
		if tr.startTime.After(*tr.endTime) {
			return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
		}
		return nil
	}

	stmt, err := tr.db.PrepareContext(ctx, selectTrackBoundsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var startTime, endTime sqliteDatetime
	if err = stmt.QueryRowContext(ctx, tr.sessionID).Scan(&startTime, &endTime); err != nil {
		return fmt.Errorf("scanning track bounds: %w", err)
	}
	if !startTime.Valid || !endTime.Valid {
		return ErrNoData
	}

	if tr.startTime == nil {
		tr.startTime = &startTime.Datetime
	}
	if tr.endTime == nil {
		tr.endTime = &endTime.Datetime
	}
	if tr.startTime.After(*tr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
	}

	return nil
}

func (tr *SqliteTrackReader) initQuery(ctx context.Context) (err error) {
	if tr.rows, err = tr.db.QueryContext(ctx, selectTrackSQL, tr.sessionID, tr.startTime.UTC(), tr.endTime.UTC()); err != nil {
		return fmt.Errorf("querying track: %w", err)
	}
	return nil
}

func (tr *SqliteTrackReader) scanSample() (*telemetry.Telemetry, error) {
	var d telemetryData
	err := tr.rows.Scan(
		&d.Timestamp,
		&d.Latitude,
		&d.Longitude,
		&d.Altitude,
		&d.AbsoluteAltitude,
		&d.Roll,
		&d.Pitch,
		&d.Yaw,
		&d.Heading,
		&d.Speed,
		&d.Airspeed,
		&d.ClimbRate,
		&d.Throttle,
		&d.BatteryVoltage,
		&d.BatteryRemaining,
		&d.Satellites,
		&d.FixType,
		&d.FlightMode,
		&d.Armed,
		&d.RadioRSSI,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sample: %w", err)
	}
	return d.toTelemetry(), nil
}

func (tr *SqliteTrackReader) Session() *Session {
	return tr.session
}

// TimeRange returns the effective time filter of the reader
func (tr *SqliteTrackReader) TimeRange() (time.Time, time.Time) {
	return *tr.startTime, *tr.endTime
}

func (tr *SqliteTrackReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		tr.err = ctx.Err()
		return false
	default:
	}

	if !tr.rows.Next() {
		tr.current = nil
		return false
	}

	tr.current, tr.err = tr.scanSample()
	return tr.err == nil
}

func (tr *SqliteTrackReader) Current() *telemetry.Telemetry {
	return tr.current
}

func (tr *SqliteTrackReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTrackReader) Close() error {
	if tr.rows != nil {
		err := tr.rows.Close()
		tr.current = nil
		tr.rows = nil
		return err
	}
	return nil
}
