package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/storage"
	"github.com/roman-kulish/ground-station/internal/telemetry"
	"github.com/roman-kulish/ground-station/internal/uav"
)

const (
	maxBatchSize          = 100
	defaultSampleInterval = time.Second
	closeTimeout          = 5 * time.Second
)

// SessionStore is the part of the flight recorder storage the Recorder writes to
type SessionStore interface {
	CreateSession(ctx context.Context, vehicleType, connection string, config any) (string, error)
	EndSession(ctx context.Context, sessionID string) error
	StoreTelemetry(ctx context.Context, sessionID string, t *telemetry.Telemetry) (int64, error)
	StoreEvents(ctx context.Context, sessionID string, events []storage.Event) error
}

// RecordedVehicle is the vehicle connection the Recorder follows
type RecordedVehicle interface {
	telemetry.Provider
	Subscribe(fn func(uav.Event)) func()
	IsConnected() bool
	System() (mavlink.System, bool)
	ConnectionString() string
}

// WithRecorderLogger sets logger
func WithRecorderLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithPanel records the status panel entries as session events
func WithPanel(panel *journal.Panel) func(*Recorder) {
	return func(r *Recorder) {
		r.panel = panel
	}
}

// WithSampleInterval sets how often telemetry is sampled into the session
func WithSampleInterval(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxBatchSize sets the maximum number of events to store within a single
// database transaction.
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		if size > 0 {
			r.maxBatchSize = size
		}
	}
}

// WithSessionConfig sets the configuration saved with every session
func WithSessionConfig(config any) func(*Recorder) {
	return func(r *Recorder) {
		r.config = config
	}
}

// Recorder writes a session per vehicle connection: it is created on Connected,
// receives sampled telemetry and journal entries, and is ended on Disconnected.
type Recorder struct {
	store   SessionStore
	vehicle RecordedVehicle
	panel   *journal.Panel
	config  any

	interval     time.Duration
	maxBatchSize int
	logger       *slog.Logger

	sessionID string
	lastStamp time.Time
	pending   []storage.Event
}

// NewRecorder creates a new Recorder
func NewRecorder(store SessionStore, vehicle RecordedVehicle, options ...func(*Recorder)) *Recorder {
	r := Recorder{
		store:        store,
		vehicle:      vehicle,
		interval:     defaultSampleInterval,
		maxBatchSize: maxBatchSize,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run records until ctx is done. The open session, if any, is ended on return.
func (r *Recorder) Run(ctx context.Context) error {
	events := make(chan uav.Event, 16)
	unsubscribe := r.vehicle.Subscribe(func(e uav.Event) {
		select {
		case events <- e:
		default:
			r.logger.Warn("recorder: dropping connection event", "event", e)
		}
	})
	defer unsubscribe()

	var entries <-chan journal.Entry
	if r.panel != nil {
		var unsubscribePanel func()
		entries, unsubscribePanel = r.panel.Subscribe(256)
		defer unsubscribePanel()
	}

	if r.vehicle.IsConnected() {
		r.begin(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			r.end(closeCtx)
			cancel()
			return nil

		case e := <-events:
			switch e {
			case uav.Connected:
				if r.sessionID == "" {
					r.begin(ctx)
				}
			case uav.Disconnected:
				r.end(ctx)
			}

		case <-ticker.C:
			r.sample(ctx)
			r.flush(ctx)

		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if r.sessionID == "" {
				continue
			}
			r.pending = append(r.pending, storage.Event{
				Timestamp: e.Time,
				Level:     e.Level.String(),
				Message:   e.Message,
			})
			if len(r.pending) >= r.maxBatchSize {
				r.flush(ctx)
			}
		}
	}
}

func (r *Recorder) begin(ctx context.Context) {
	vehicleType := "unknown"
	if system, ok := r.vehicle.System(); ok {
		vehicleType = describeSystem(system)
	}

	id, err := r.store.CreateSession(ctx, vehicleType, r.vehicle.ConnectionString(), r.config)
	if err != nil {
		r.logger.Error(fmt.Sprintf("recorder: creating session: %s", err))
		return
	}

	r.sessionID = id
	r.lastStamp = time.Time{}
	r.logger.Info("recording session", "session", id, "vehicle", vehicleType)
}

func (r *Recorder) end(ctx context.Context) {
	if r.sessionID == "" {
		return
	}

	r.sample(ctx)
	r.flush(ctx)

	if err := r.store.EndSession(ctx, r.sessionID); err != nil {
		r.logger.Error(fmt.Sprintf("recorder: ending session: %s", err), "session", r.sessionID)
	} else {
		r.logger.Info("session recorded", "session", r.sessionID)
	}

	r.sessionID = ""
	r.pending = nil
}

// sample stores the current telemetry. A sample repeating the last timestamp is skipped.
func (r *Recorder) sample(ctx context.Context) {
	if r.sessionID == "" {
		return
	}

	t := r.vehicle.Get()
	if t == nil || t.Timestamp.IsZero() || t.Timestamp.Equal(r.lastStamp) {
		return
	}

	if _, err := r.store.StoreTelemetry(ctx, r.sessionID, t); err != nil {
		r.logger.Error(fmt.Sprintf("recorder: storing telemetry: %s", err), "session", r.sessionID)
		return
	}
	r.lastStamp = t.Timestamp
}

func (r *Recorder) flush(ctx context.Context) {
	if r.sessionID == "" || len(r.pending) == 0 {
		return
	}

	pending := r.pending
	r.pending = nil

	for chunk := range slices.Chunk(pending, r.maxBatchSize) {
		if err := r.store.StoreEvents(ctx, r.sessionID, chunk); err != nil {
			r.logger.Error(fmt.Sprintf("recorder: storing events: %s", err), "session", r.sessionID)
			return
		}
	}
}

// describeSystem names the vehicle as autopilot and frame, e.g. "PX4 QUADROTOR"
func describeSystem(s mavlink.System) string {
	autopilot := strings.TrimPrefix(s.Autopilot.String(), "MAV_AUTOPILOT_")
	frame := strings.TrimPrefix(s.Type.String(), "MAV_TYPE_")
	return autopilot + " " + frame
}
