package storage

import (
	"context"

	"github.com/roman-kulish/ground-station/internal/telemetry"
)

// Store provides an interface for the flight recorder. It persists vehicle
// sessions, sampled telemetry and log events in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession starts recording a new vehicle session and returns its unique identifier.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - vehicleType: Autopilot and frame of the vehicle (e.g., "PX4 quadrotor")
	//   - connection: Link url of the session (e.g., "serial:///dev/ttyUSB0:57600")
	//   - config: Optional station configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: UUID of the created session
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, vehicleType, connection string, config any) (sessionID string, err error)

	// EndSession marks a session as finished. Ending a finished session is a no-op.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: UUID of the session
	//
	// Returns:
	//   - error: If the update fails or context is cancelled
	EndSession(ctx context.Context, sessionID string) error

	// Session retrieves a specific session by its ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Session UUID
	//
	// Returns:
	//   - session: Pointer to session data
	//   - error: ErrSessionNotFound if no such session exists, or if retrieval fails
	Session(ctx context.Context, id string) (session *Session, err error)

	// Sessions returns all sessions stored in the database ordered by start time.
	Sessions(ctx context.Context) (sessions []*Session, err error)

	// StoreTelemetry saves a telemetry sample for a specific session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: UUID of the session this telemetry belongs to
	//   - t: Telemetry sample; nil fields are stored as NULL
	//
	// Returns:
	//   - telemetryID: Unique identifier for the stored telemetry record
	//   - error: If storage fails or context is cancelled
	StoreTelemetry(ctx context.Context, sessionID string, t *telemetry.Telemetry) (telemetryID int64, err error)

	// StoreEvent saves a log event for a specific session.
	StoreEvent(ctx context.Context, sessionID string, e Event) error

	// Events returns the events of a session in the order they were recorded.
	Events(ctx context.Context, sessionID string) ([]Event, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}

// TrackReader provides an iterator over the telemetry track of a session.
type TrackReader interface {
	// Session returns metadata about the session this reader is accessing.
	Session() *Session

	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current telemetry sample.
	// If called after Next() returns false, the behavior is undefined.
	Current() *telemetry.Telemetry

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}
