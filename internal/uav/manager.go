package uav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/serialport"
	"github.com/roman-kulish/ground-station/internal/telemetry"
)

var (
	ErrNotConnected = errors.New("uav: not connected")
	ErrConnecting   = errors.New("uav: connection in progress")
)

const (
	DefaultConnectTimeout = 5 * time.Second

	// Acceptance radius of a fly-to waypoint in meters
	waypointAcceptanceRadius = 1.0
)

// Link is the vehicle connection the manager drives
type Link interface {
	mavlink.Writer
	Subscribe(fn func(mavlink.Frame)) func()
	WaitSystem(ctx context.Context) (mavlink.System, error)
	IsConnected() bool
	URL() string
	Close() error
}

// DialFunc opens a link for a connection url
type DialFunc func(url string) (Link, error)

// ConnectionString builds the link url for a port and baud rate. The simulation
// pseudo-port listens for UDP on the port number given as baud rate.
func ConnectionString(port string, baud int) string {
	if port == serialport.Simulation {
		return fmt.Sprintf("udp://:%d", baud)
	}
	return fmt.Sprintf("serial://%s:%d", port, baud)
}

// Default message rates requested from the vehicle after connecting
var telemetryRates = []struct {
	msg  message.Message
	rate time.Duration
}{
	{&common.MessageGlobalPositionInt{}, 200 * time.Millisecond},
	{&common.MessageAttitude{}, 100 * time.Millisecond},
	{&common.MessageVfrHud{}, 250 * time.Millisecond},
	{&common.MessageLocalPositionNed{}, 200 * time.Millisecond},
	{&common.MessageGpsRawInt{}, time.Second},
	{&common.MessageSysStatus{}, time.Second},
	{&common.MessageBatteryStatus{}, time.Second},
	{&common.MessageRcChannels{}, 500 * time.Millisecond},
	{&common.MessageHomePosition{}, 5 * time.Second},
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDialer replaces the function used to open links
func WithDialer(dial DialFunc) func(*Manager) {
	return func(m *Manager) {
		m.dial = dial
	}
}

// WithConnectTimeout sets how long Connect waits for a vehicle heartbeat
func WithConnectTimeout(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithCommandOptions sets options for every commander the manager creates
func WithCommandOptions(options ...func(*mavlink.Commander)) func(*Manager) {
	return func(m *Manager) {
		m.commandOptions = append(m.commandOptions, options...)
	}
}

// WithTakeoffAltitude sets the altitude used by the TakeOff flight command
func WithTakeoffAltitude(meters float32) func(*Manager) {
	return func(m *Manager) {
		if meters > 0 {
			m.takeoffAltitude = meters
		}
	}
}

// Manager owns the connection to one vehicle together with its commander and
// telemetry cache. It is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	connecting  bool
	link        Link
	system      mavlink.System
	commander   *mavlink.Commander
	telemetry   *telemetry.Handler
	unsubscribe func()
	runCtx      context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	listenersMu sync.RWMutex
	listeners   map[int]func(Event)
	nextID      int

	dial            DialFunc
	connectTimeout  time.Duration
	commandOptions  []func(*mavlink.Commander)
	takeoffAltitude float32

	logger *slog.Logger
}

func NewManager(options ...func(*Manager)) *Manager {
	m := &Manager{
		listeners:       make(map[int]func(Event)),
		connectTimeout:  DefaultConnectTimeout,
		takeoffAltitude: 10,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(m)
	}

	if m.dial == nil {
		m.dial = func(url string) (Link, error) {
			link, err := mavlink.Dial(url, mavlink.WithLogger(m.logger))
			if err != nil {
				return nil, err
			}
			return link, nil
		}
	}

	return m
}

// Subscribe registers fn for connection events and returns a function removing it
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) emit(e Event) {
	m.listenersMu.RLock()
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Connect opens the link for port and baud and waits for a vehicle. Connecting
// while connected only repeats the Connected event. The manager lock is not held
// while waiting, so status getters stay responsive.
func (m *Manager) Connect(ctx context.Context, port string, baud int) error {
	m.mu.Lock()
	if m.link != nil {
		m.mu.Unlock()
		m.emit(Connected)
		return nil
	}
	if m.connecting {
		m.mu.Unlock()
		return ErrConnecting
	}
	m.connecting = true
	m.mu.Unlock()

	link, system, err := m.open(ctx, ConnectionString(port, baud))

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		m.mu.Unlock()
		return err
	}

	commander := mavlink.NewCommander(link, system, append([]func(*mavlink.Commander){mavlink.WithCommandLogger(m.logger)}, m.commandOptions...)...)
	handler := telemetry.NewHandler(telemetry.WithLogger(m.logger))
	m.unsubscribe = link.Subscribe(frameHandler(system, commander, handler, m.logStatusText))

	runCtx, cancel := context.WithCancel(context.Background())
	m.link = link
	m.system = system
	m.commander = commander
	m.telemetry = handler
	m.runCtx = runCtx
	m.cancel = cancel

	m.wg.Add(2)
	go m.initTelemetry(runCtx, commander)
	go m.watchHeartbeat(runCtx, link)

	m.mu.Unlock()

	m.logger.Info("connected to system", "system", system.ID, "autopilot", system.Autopilot, "type", system.Type)
	m.emit(Connected)
	return nil
}

// open dials url and waits up to the connect timeout for an autopilot
func (m *Manager) open(ctx context.Context, url string) (Link, mavlink.System, error) {
	m.logger.Info("connecting", "url", url)

	link, err := m.dial(url)
	if err != nil {
		m.logger.Error("connection failed", "url", url, "error", err)
		return nil, mavlink.System{}, fmt.Errorf("connecting to %s: %w", url, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	system, err := link.WaitSystem(waitCtx)
	if err != nil {
		_ = link.Close()
		m.logger.Error("no system found", "url", url, "timeout", m.connectTimeout)
		return nil, mavlink.System{}, fmt.Errorf("connecting to %s: %w", url, err)
	}
	return link, system, nil
}

// frameHandler routes frames of the connected system. Heartbeats of other
// components on the same system (gimbals, cameras, OSDs) do not reach the
// telemetry cache, they carry neither the armed state nor the flight mode.
func frameHandler(system mavlink.System, commander *mavlink.Commander, handler *telemetry.Handler, statusText func(*common.MessageStatustext)) func(mavlink.Frame) {
	return func(f mavlink.Frame) {
		if f.SystemID != system.ID {
			return
		}
		commander.HandleFrame(f)

		switch m := f.Message.(type) {
		case *common.MessageHeartbeat:
			if f.ComponentID != system.Component {
				return
			}
		case *common.MessageStatustext:
			statusText(m)
		}
		handler.HandleMessage(f.Message)
	}
}

// initTelemetry requests the message rates the telemetry cache relies on.
// Autopilots that reject a request keep streaming at their own rate.
func (m *Manager) initTelemetry(ctx context.Context, commander *mavlink.Commander) {
	defer m.wg.Done()

	for _, r := range telemetryRates {
		err := commander.SetMessageInterval(ctx, r.msg.GetID(), r.rate)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Debug("message interval not set", "message", r.msg.GetID(), "error", err)
		}
	}

	m.logger.Debug("telemetry initialised")
}

func (m *Manager) watchHeartbeat(ctx context.Context, link Link) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	alive := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected := link.IsConnected()
			switch {
			case alive && !connected:
				m.logger.Warn("vehicle heartbeat lost", "url", link.URL())
			case !alive && connected:
				m.logger.Info("vehicle heartbeat restored", "url", link.URL())
			}
			alive = connected
		}
	}
}

func (m *Manager) logStatusText(text *common.MessageStatustext) {
	level := journal.LevelInfo
	switch {
	case text.Severity <= common.MAV_SEVERITY_ERROR:
		level = journal.LevelError
	case text.Severity == common.MAV_SEVERITY_WARNING:
		level = journal.LevelWarning
	case text.Severity == common.MAV_SEVERITY_DEBUG:
		level = journal.LevelDebug
	}

	m.logger.Log(context.Background(), level.Slog(), "vehicle: "+strings.TrimRight(text.Text, "\x00"))
}

// Disconnect closes the link and drops the commander and telemetry cache
func (m *Manager) Disconnect() error {
	m.mu.Lock()

	if m.link == nil {
		m.mu.Unlock()
		return nil
	}

	m.cancel()
	m.unsubscribe()
	err := m.link.Close()
	m.wg.Wait()
	m.telemetry.Close()

	url := m.link.URL()
	m.link = nil
	m.system = mavlink.System{}
	m.commander = nil
	m.telemetry = nil
	m.unsubscribe = nil
	m.runCtx = nil
	m.cancel = nil

	m.mu.Unlock()

	m.logger.Info("disconnected", "url", url)
	m.emit(Disconnected)

	if err != nil {
		return fmt.Errorf("closing %s: %w", url, err)
	}
	return nil
}

// IsConnected reports whether a vehicle link is open
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil
}

// ComponentsReady reports whether both the commander and telemetry cache exist
func (m *Manager) ComponentsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commander != nil && m.telemetry != nil
}

// Telemetry returns the telemetry cache of the current connection, or nil
func (m *Manager) Telemetry() *telemetry.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.telemetry
}

// Get implements telemetry.Provider over the current connection. It returns nil
// while disconnected.
func (m *Manager) Get() *telemetry.Telemetry {
	if h := m.Telemetry(); h != nil {
		return h.Get()
	}
	return nil
}

// System returns the connected vehicle
func (m *Manager) System() (mavlink.System, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system, m.link != nil
}

// ConnectionString returns the url of the current connection, or ""
func (m *Manager) ConnectionString() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link == nil {
		return ""
	}
	return m.link.URL()
}

// HeartbeatOK reports whether the vehicle heartbeat is current
func (m *Manager) HeartbeatOK() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link != nil && m.link.IsConnected()
}

func (m *Manager) session() (*mavlink.Commander, mavlink.System, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commander == nil {
		return nil, mavlink.System{}, ErrNotConnected
	}
	return m.commander, m.system, nil
}

func (m *Manager) command(ctx context.Context, name string, cmd common.MAV_CMD, params ...float32) error {
	commander, _, err := m.session()
	if err != nil {
		m.logger.Error(name+" failed", "error", err)
		return err
	}

	if err := commander.Send(ctx, cmd, params...); err != nil {
		m.logger.Error(name+" failed", "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}

	m.logger.Info(name + " accepted")
	return nil
}

// Arm arms the motors
func (m *Manager) Arm(ctx context.Context) error {
	return m.command(ctx, "arm", common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

// Disarm disarms the motors
func (m *Manager) Disarm(ctx context.Context) error {
	return m.command(ctx, "disarm", common.MAV_CMD_COMPONENT_ARM_DISARM, 0)
}

// Takeoff sets the takeoff altitude and takes off
func (m *Manager) Takeoff(ctx context.Context, height float32) error {
	commander, system, err := m.session()
	if err != nil {
		m.logger.Error("takeoff failed", "error", err)
		return err
	}

	nan := float32(math.NaN())
	altitude := height

	// PX4 reads the takeoff altitude from MIS_TAKEOFF_ALT and ignores param 7
	if system.Autopilot == common.MAV_AUTOPILOT_PX4 {
		if err := commander.SetParameter(ctx, "MIS_TAKEOFF_ALT", height); err != nil {
			m.logger.Error("setting takeoff altitude failed", "error", err)
			return fmt.Errorf("setting takeoff altitude: %w", err)
		}
		altitude = nan
	}
	m.logger.Info("takeoff altitude set", "meters", height)

	return m.command(ctx, "takeoff", common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, nan, nan, nan, altitude)
}

// Land lands at the current position
func (m *Manager) Land(ctx context.Context) error {
	nan := float32(math.NaN())
	return m.command(ctx, "land", common.MAV_CMD_NAV_LAND, 0, 0, 0, nan, nan, nan, nan)
}

// ReturnToLaunch flies back to the home position
func (m *Manager) ReturnToLaunch(ctx context.Context) error {
	return m.command(ctx, "return to launch", common.MAV_CMD_NAV_RETURN_TO_LAUNCH)
}

// Execute runs a flight command
func (m *Manager) Execute(ctx context.Context, cmd FlightCommand) error {
	switch cmd {
	case TakeOff:
		return m.Takeoff(ctx, m.takeoffAltitude)
	case Land:
		return m.Land(ctx)
	case ReturnToHome:
		return m.ReturnToLaunch(ctx)
	default:
		return fmt.Errorf("unknown flight command %s", cmd)
	}
}

// SendCoordinates flies the vehicle to a coordinate. The speed is changed first;
// a failure there is only logged. The one-item mission is then uploaded and
// started in the background, outcomes are logged.
func (m *Manager) SendCoordinates(ctx context.Context, lat, lon float64, alt, speed, yaw float32) error {
	commander, _, err := m.session()
	if err != nil {
		m.logger.Error("sending coordinates failed", "error", err)
		return err
	}

	if err := commander.Send(ctx, common.MAV_CMD_DO_CHANGE_SPEED, 1, speed, -1); err != nil {
		m.logger.Warn("setting speed failed", "speed", speed, "error", err)
	}

	m.mu.Lock()
	runCtx := m.runCtx
	if runCtx == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.wg.Add(1)
	m.mu.Unlock()

	items := []mavlink.MissionItem{{
		Latitude:         lat,
		Longitude:        lon,
		RelativeAltitude: alt,
		Speed:            speed,
		Yaw:              yaw,
		FlyThrough:       true,
		AcceptanceRadius: waypointAcceptanceRadius,
	}}

	go func() {
		defer m.wg.Done()

		if err := commander.UploadMission(runCtx, items); err != nil {
			m.logger.Error("mission upload failed", "error", err)
			return
		}
		m.logger.Info("mission uploaded", "lat", lat, "lon", lon, "alt", alt)

		if err := commander.StartMission(runCtx); err != nil {
			m.logger.Error("mission start failed", "error", err)
			return
		}
		m.logger.Info("mission started")
	}()

	return nil
}
