package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

var ErrSessionNotFound = errors.New("session not found")

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Init creates the database and its schema if they do not exist yet. A
// recording station calls it on start so that readers never race the first
// write.
func (s *SqliteStore) Init() error {
	_, err := s.getWriteDB()
	return err
}

func (s *SqliteStore) CreateSession(ctx context.Context, vehicleType, connection string, config any) (sessionID string, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData.Valid = true
			configData.String = v

		case []byte:
			configData.Valid = true
			configData.String = string(v)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	id := uuid.NewString()
	if _, err = stmt.ExecContext(ctx, id, time.Now().UTC(), vehicleType, connection, configData); err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	return id, nil
}

func (s *SqliteStore) EndSession(ctx context.Context, sessionID string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, endSessionSQL, time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

func (s *SqliteStore) Session(ctx context.Context, id string) (session *Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}
	return loadSession(ctx, db, id)
}

func loadSession(ctx context.Context, db *sql.DB, id string) (session *Session, err error) {
	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var data sessionData
	err = stmt.QueryRowContext(ctx, id).Scan(&data.ID, &data.StartTime, &data.EndTime, &data.VehicleType, &data.Connection, &data.Config)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		return
	}
	if err != nil {
		err = fmt.Errorf("scanning session: %w", err)
		return
	}

	return data.toSession(), nil
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data sessionData
		if err = rows.Scan(&data.ID, &data.StartTime, &data.EndTime, &data.VehicleType, &data.Connection, &data.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, data.toSession())
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating sessions: %w", err)
	}
	return
}

// ReadTrack creates a TrackReader over the telemetry of a session ordered by
// time.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - sessionID: UUID of the session to read from
//   - opts: Optional time filters (WithStartTime, WithEndTime, WithTimeRange)
//
// The returned reader must be closed after use to release database resources.
// Each reader instance should only be used from a single goroutine.
//
// Returns ErrNoData if the session has no telemetry.
func (s *SqliteStore) ReadTrack(ctx context.Context, sessionID string, opts ...ReaderOption) (*SqliteTrackReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteTrackReader(ctx, db, sessionID, opts...)
}

func (s *SqliteStore) StoreTelemetry(ctx context.Context, sessionID string, t *telemetry.Telemetry) (telemetryID int64, err error) {
	if t == nil {
		return 0, errors.New("telemetry is nil")
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data := toTelemetryData(sessionID, t)

	result, err := stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Latitude,
		data.Longitude,
		data.Altitude,
		data.AbsoluteAltitude,
		data.Roll,
		data.Pitch,
		data.Yaw,
		data.Heading,
		data.Speed,
		data.Airspeed,
		data.ClimbRate,
		data.Throttle,
		data.BatteryVoltage,
		data.BatteryRemaining,
		data.Satellites,
		data.FixType,
		data.FlightMode,
		data.Armed,
		data.RadioRSSI,
	)
	if err != nil {
		err = fmt.Errorf("inserting telemetry: %w", err)
		return
	}

	telemetryID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting telemetry ID: %w", err)
	}
	return
}

func (s *SqliteStore) StoreEvent(ctx context.Context, sessionID string, e Event) (err error) {
	return s.StoreEvents(ctx, sessionID, []Event{e})
}

// StoreEvents saves events in a single transaction
func (s *SqliteStore) StoreEvents(ctx context.Context, sessionID string, events []Event) (err error) {
	if len(events) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, e := range events {
		if _, err = stmt.ExecContext(ctx, sessionID, e.Timestamp.UTC(), e.Level, e.Message); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) Events(ctx context.Context, sessionID string) (events []Event, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectEventsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying events: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e Event
		if err = rows.Scan(&e.Timestamp, &e.Level, &e.Message); err != nil {
			err = fmt.Errorf("scanning event: %w", err)
			return
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating events: %w", err)
	}
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
