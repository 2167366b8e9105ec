package telemetry

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

type Position struct {
	LatitudeDeg       float64 `json:"latitudeDeg"`
	LongitudeDeg      float64 `json:"longitudeDeg"`
	AbsoluteAltitudeM float32 `json:"absoluteAltitudeM"`
	RelativeAltitudeM float32 `json:"relativeAltitudeM"`
}

type Heading struct {
	HeadingDeg float64 `json:"headingDeg"`
}

type EulerAngle struct {
	RollDeg  float32 `json:"rollDeg"`
	PitchDeg float32 `json:"pitchDeg"`
	YawDeg   float32 `json:"yawDeg"`
}

type FixedwingMetrics struct {
	AirspeedMS         float32 `json:"airspeedMS"`
	ThrottlePercentage float32 `json:"throttlePercentage"`
	ClimbRateMS        float32 `json:"climbRateMS"`
}

type GpsInfo struct {
	NumSatellites int     `json:"numSatellites"`
	FixType       FixType `json:"fixType"`
}

// Battery state. RemainingPercent is a fraction in 0..1, or -1 when unknown.
type Battery struct {
	VoltageV         float32 `json:"voltageV"`
	CurrentA         float32 `json:"currentA"`
	RemainingPercent float32 `json:"remainingPercent"`
}

type Health struct {
	IsGyrometerCalibrationOk     bool `json:"isGyrometerCalibrationOk"`
	IsAccelerometerCalibrationOk bool `json:"isAccelerometerCalibrationOk"`
	IsMagnetometerCalibrationOk  bool `json:"isMagnetometerCalibrationOk"`
	IsLocalPositionOk            bool `json:"isLocalPositionOk"`
	IsGlobalPositionOk           bool `json:"isGlobalPositionOk"`
	IsHomePositionOk             bool `json:"isHomePositionOk"`
	IsArmable                    bool `json:"isArmable"`
}

type RcStatus struct {
	WasAvailableOnce      bool    `json:"wasAvailableOnce"`
	IsAvailable           bool    `json:"isAvailable"`
	SignalStrengthPercent float32 `json:"signalStrengthPercent"`
}

// Snapshot holds the most recent value of every telemetry stream
type Snapshot struct {
	UpdatedAt  time.Time        `json:"updatedAt"`
	Position   Position         `json:"position"`
	Heading    Heading          `json:"heading"`
	Attitude   EulerAngle       `json:"attitude"`
	Fixedwing  FixedwingMetrics `json:"fixedwing"`
	FlightMode FlightMode       `json:"flightMode"`
	GpsInfo    GpsInfo          `json:"gpsInfo"`
	Battery    Battery          `json:"battery"`
	Armed      bool             `json:"armed"`
	TotalSpeed float64          `json:"totalSpeed"`
	Health     Health           `json:"health"`
	RcStatus   RcStatus         `json:"rcStatus"`
}

const (
	hasHeartbeat = 1 << iota
	hasPosition
	hasHeading
	hasAttitude
	hasFixedwing
	hasGps
	hasBattery
	hasSpeed
	hasHealth
	hasRc
	hasLocalPosition
	hasHome
	hasBatteryStatus
)

const radToDeg = 180 / math.Pi

// WithLogger sets logger
func WithLogger(logger *slog.Logger) func(*Handler) {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler caches the latest telemetry decoded from vehicle messages and fans it
// out to subscribers. Only the most recent value of each stream is kept.
type Handler struct {
	mu       sync.RWMutex
	snapshot Snapshot
	received uint32
	sensors  sensorStatus

	subsMu sync.Mutex
	subs   map[int]chan Snapshot
	nextID int

	logger *slog.Logger
	now    func() time.Time
}

type sensorStatus struct {
	present common.MAV_SYS_STATUS_SENSOR
	health  common.MAV_SYS_STATUS_SENSOR
}

func NewHandler(options ...func(*Handler)) *Handler {
	h := &Handler{
		snapshot: Snapshot{Battery: Battery{RemainingPercent: -1}},
		subs:     make(map[int]chan Snapshot),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// HandleMessage updates the cache from a vehicle message. Unknown messages are
// ignored. Subscribers are notified when a value changed.
func (h *Handler) HandleMessage(msg message.Message) {
	h.mu.Lock()
	notify := h.apply(msg)
	if notify {
		h.snapshot.UpdatedAt = h.now()
	}
	snapshot := h.snapshot
	h.mu.Unlock()

	if notify {
		h.publish(snapshot)
	}
}

// apply decodes msg into the cache. h.mu must be held.
func (h *Handler) apply(msg message.Message) bool {
	s := &h.snapshot

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		// peripherals report an invalid autopilot
		if m.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return false
		}
		s.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		s.FlightMode = DecodeFlightMode(m.Autopilot, m.BaseMode, m.CustomMode)
		h.received |= hasHeartbeat

	case *common.MessageGlobalPositionInt:
		s.Position = Position{
			LatitudeDeg:       float64(m.Lat) / 1e7,
			LongitudeDeg:      float64(m.Lon) / 1e7,
			AbsoluteAltitudeM: float32(m.Alt) / 1000,
			RelativeAltitudeM: float32(m.RelativeAlt) / 1000,
		}
		h.received |= hasPosition
		if m.Hdg != math.MaxUint16 {
			s.Heading.HeadingDeg = float64(m.Hdg) / 100
			h.received |= hasHeading
		}
		if h.received&hasLocalPosition == 0 {
			s.TotalSpeed = magnitude(float64(m.Vx)/100, float64(m.Vy)/100, float64(m.Vz)/100)
			h.received |= hasSpeed
		}

	case *common.MessageLocalPositionNed:
		s.TotalSpeed = magnitude(float64(m.Vx), float64(m.Vy), float64(m.Vz))
		h.received |= hasSpeed | hasLocalPosition

	case *common.MessageAttitude:
		s.Attitude = EulerAngle{
			RollDeg:  m.Roll * radToDeg,
			PitchDeg: m.Pitch * radToDeg,
			YawDeg:   m.Yaw * radToDeg,
		}
		h.received |= hasAttitude

	case *common.MessageVfrHud:
		s.Fixedwing = FixedwingMetrics{
			AirspeedMS:         m.Airspeed,
			ThrottlePercentage: float32(m.Throttle),
			ClimbRateMS:        m.Climb,
		}
		h.received |= hasFixedwing

	case *common.MessageGpsRawInt:
		sats := int(m.SatellitesVisible)
		if m.SatellitesVisible == math.MaxUint8 {
			sats = 0
		}
		s.GpsInfo = GpsInfo{NumSatellites: sats, FixType: fixTypeFromMAVLink(m.FixType)}
		h.received |= hasGps

	case *common.MessageSysStatus:
		h.sensors = sensorStatus{present: m.OnboardControlSensorsPresent, health: m.OnboardControlSensorsHealth}
		h.received |= hasHealth

		// BATTERY_STATUS takes precedence once the vehicle sends it
		if h.received&hasBatteryStatus == 0 && m.VoltageBattery != math.MaxUint16 {
			s.Battery = Battery{
				VoltageV:         float32(m.VoltageBattery) / 1000,
				CurrentA:         float32(m.CurrentBattery) / 100,
				RemainingPercent: remaining(m.BatteryRemaining),
			}
			if m.CurrentBattery == -1 {
				s.Battery.CurrentA = 0
			}
			h.received |= hasBattery
		}

	case *common.MessageBatteryStatus:
		var mv uint32
		for _, cell := range m.Voltages {
			if cell == math.MaxUint16 {
				continue
			}
			mv += uint32(cell)
		}
		s.Battery = Battery{
			VoltageV:         float32(mv) / 1000,
			RemainingPercent: remaining(m.BatteryRemaining),
		}
		if m.CurrentBattery != -1 {
			s.Battery.CurrentA = float32(m.CurrentBattery) / 100
		}
		h.received |= hasBattery | hasBatteryStatus

	case *common.MessageHomePosition:
		h.received |= hasHome

	case *common.MessageRcChannels:
		available := m.Chancount > 0
		s.RcStatus.IsAvailable = available
		if available {
			s.RcStatus.WasAvailableOnce = true
		}
		if m.Rssi != math.MaxUint8 {
			s.RcStatus.SignalStrengthPercent = float32(m.Rssi) * 100 / 254
		}
		h.received |= hasRc
		if !available {
			return false
		}

	default:
		return false
	}

	s.Health = h.health()
	return true
}

func (h *Handler) health() Health {
	ok := func(sensor common.MAV_SYS_STATUS_SENSOR) bool {
		return h.sensors.present&sensor != 0 && h.sensors.health&sensor != 0
	}

	health := Health{
		IsGyrometerCalibrationOk:     ok(common.MAV_SYS_STATUS_SENSOR_3D_GYRO),
		IsAccelerometerCalibrationOk: ok(common.MAV_SYS_STATUS_SENSOR_3D_ACCEL),
		IsMagnetometerCalibrationOk:  ok(common.MAV_SYS_STATUS_SENSOR_3D_MAG),
		IsLocalPositionOk:            h.received&hasLocalPosition != 0,
		IsGlobalPositionOk: h.received&hasGps != 0 &&
			h.snapshot.GpsInfo.FixType >= FixType3D && h.snapshot.GpsInfo.FixType <= FixTypeRtkFixed,
		IsHomePositionOk: h.received&hasHome != 0,
	}

	health.IsArmable = health.IsGyrometerCalibrationOk &&
		health.IsAccelerometerCalibrationOk &&
		health.IsMagnetometerCalibrationOk &&
		health.IsGlobalPositionOk &&
		health.IsHomePositionOk

	return health
}

func remaining(percent int8) float32 {
	if percent < 0 {
		return -1
	}
	return float32(percent) / 100
}

func magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// Snapshot returns a copy of the cached values
func (h *Handler) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

func (h *Handler) Position() Position {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Position
}

func (h *Handler) Heading() Heading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Heading
}

func (h *Handler) Attitude() EulerAngle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Attitude
}

func (h *Handler) FixedwingMetrics() FixedwingMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Fixedwing
}

func (h *Handler) FlightMode() FlightMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.FlightMode
}

func (h *Handler) GpsInfo() GpsInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.GpsInfo
}

func (h *Handler) Battery() Battery {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Battery
}

func (h *Handler) Armed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Armed
}

func (h *Handler) TotalSpeed() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.TotalSpeed
}

func (h *Handler) Health() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.Health
}

func (h *Handler) RcStatus() RcStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot.RcStatus
}

// Subscribe returns a channel carrying the latest snapshot after every update.
// The channel holds one value; a stale value is replaced rather than queued.
func (h *Handler) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.subsMu.Unlock()

	return ch, func() {
		h.subsMu.Lock()
		defer h.subsMu.Unlock()

		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Close drops all subscribers
func (h *Handler) Close() {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Handler) publish(s Snapshot) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- s:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- s:
		default:
			h.logger.Debug("telemetry subscriber lagging")
		}
	}
}
