package uav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/telemetry"
)

var px4 = mavlink.System{ID: 1, Component: 1, Autopilot: common.MAV_AUTOPILOT_PX4, Type: common.MAV_TYPE_QUADROTOR}

// fakeLink is an in-memory vehicle accepting every request
type fakeLink struct {
	mu      sync.Mutex
	url     string
	system  mavlink.System
	subs    map[int]func(mavlink.Frame)
	nextID  int
	sent    []message.Message
	closed  bool
	reject  map[common.MAV_CMD]bool
	noReply bool

	missionCount uint16
}

func newFakeLink(url string, system mavlink.System) *fakeLink {
	return &fakeLink{url: url, system: system, subs: make(map[int]func(mavlink.Frame)), reject: make(map[common.MAV_CMD]bool)}
}

func (l *fakeLink) WriteMessage(msg message.Message) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return mavlink.ErrClosed
	}
	l.sent = append(l.sent, msg)
	reject, noReply := l.reject, l.noReply
	l.mu.Unlock()

	if noReply {
		return nil
	}

	switch m := msg.(type) {
	case *common.MessageCommandLong:
		result := common.MAV_RESULT_ACCEPTED
		if reject[m.Command] {
			result = common.MAV_RESULT_DENIED
		}
		l.deliver(l.system.ID, &common.MessageCommandAck{Command: m.Command, Result: result})
	case *common.MessageParamSet:
		l.deliver(l.system.ID, &common.MessageParamValue{ParamId: m.ParamId, ParamValue: m.ParamValue})
	case *common.MessageMissionCount:
		l.mu.Lock()
		l.missionCount = m.Count
		l.mu.Unlock()
		l.deliver(l.system.ID, &common.MessageMissionRequestInt{Seq: 0})
	case *common.MessageMissionItemInt:
		l.mu.Lock()
		count := l.missionCount
		l.mu.Unlock()
		if m.Seq+1 < count {
			l.deliver(l.system.ID, &common.MessageMissionRequestInt{Seq: m.Seq + 1})
			return nil
		}
		l.deliver(l.system.ID, &common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
	}
	return nil
}

func (l *fakeLink) deliver(systemID uint8, msg message.Message) {
	l.deliverFrame(mavlink.Frame{SystemID: systemID, ComponentID: 1, Message: msg})
}

func (l *fakeLink) deliverFrame(f mavlink.Frame) {
	l.mu.Lock()
	subs := make([]func(mavlink.Frame), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(f)
	}
}

func (l *fakeLink) Subscribe(fn func(mavlink.Frame)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *fakeLink) WaitSystem(ctx context.Context) (mavlink.System, error) {
	if l.system.ID != 0 {
		return l.system, nil
	}
	<-ctx.Done()
	return mavlink.System{}, fmt.Errorf("%w: %w", mavlink.ErrNoSystem, ctx.Err())
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.system.ID != 0
}

func (l *fakeLink) URL() string { return l.url }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) commands(cmd common.MAV_CMD) []*common.MessageCommandLong {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*common.MessageCommandLong
	for _, msg := range l.sent {
		if c, ok := msg.(*common.MessageCommandLong); ok && c.Command == cmd {
			out = append(out, c)
		}
	}
	return out
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type dialRecorder struct {
	mu    sync.Mutex
	urls  []string
	links []*fakeLink
	sys   mavlink.System
	err   error
}

func (d *dialRecorder) dial(url string) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	l := newFakeLink(url, d.sys)
	d.links = append(d.links, l)
	return l, nil
}

func newTestManager(d *dialRecorder, options ...func(*Manager)) *Manager {
	options = append([]func(*Manager){
		WithDialer(d.dial),
		WithConnectTimeout(50 * time.Millisecond),
		WithCommandOptions(mavlink.WithRetries(50*time.Millisecond, 2)),
	}, options...)
	return NewManager(options...)
}

func connect(t *testing.T, m *Manager) {
	t.Helper()
	if err := m.Connect(context.Background(), "/dev/ttyUSB0", 57600); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Disconnect() })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectionString(t *testing.T) {
	if got := ConnectionString("Simulation", 14550); got != "udp://:14550" {
		t.Errorf("ConnectionString(Simulation) = %s", got)
	}
	if got := ConnectionString("/dev/ttyUSB0", 57600); got != "serial:///dev/ttyUSB0:57600" {
		t.Errorf("ConnectionString(serial) = %s", got)
	}
}

func TestManager_ConnectAndDisconnect(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)

	var mu sync.Mutex
	var events []Event
	m.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if m.IsConnected() || m.ComponentsReady() || m.Telemetry() != nil {
		t.Fatalf("manager reports a connection before Connect")
	}

	if err := m.Connect(context.Background(), "Simulation", 14550); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !m.IsConnected() || !m.ComponentsReady() || m.Telemetry() == nil {
		t.Fatalf("manager not ready after Connect")
	}
	if got := m.ConnectionString(); got != "udp://:14550" {
		t.Errorf("ConnectionString() = %s", got)
	}
	if sys, ok := m.System(); !ok || sys.ID != 1 {
		t.Errorf("System() = %+v, %v", sys, ok)
	}

	if err := m.Connect(context.Background(), "Simulation", 14550); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if len(d.urls) != 1 {
		t.Errorf("dialed %d times, want 1", len(d.urls))
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if m.IsConnected() || m.Telemetry() != nil || m.ConnectionString() != "" {
		t.Errorf("manager still connected after Disconnect")
	}
	if !d.links[0].isClosed() {
		t.Errorf("link not closed")
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Event{Connected, Connected, Disconnected}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestManager_ConnectWithoutSystem(t *testing.T) {
	d := &dialRecorder{}
	m := newTestManager(d)

	err := m.Connect(context.Background(), "/dev/ttyUSB0", 57600)
	if !errors.Is(err, mavlink.ErrNoSystem) {
		t.Fatalf("Connect() error = %v, want ErrNoSystem", err)
	}
	if m.IsConnected() {
		t.Errorf("IsConnected() = true after failed connect")
	}
	if !d.links[0].isClosed() {
		t.Errorf("link left open after failed connect")
	}
}

func TestManager_DialError(t *testing.T) {
	d := &dialRecorder{err: mavlink.ErrBaudrateUnknown}
	m := newTestManager(d)

	if err := m.Connect(context.Background(), "/dev/ttyUSB0", 14550); !errors.Is(err, mavlink.ErrBaudrateUnknown) {
		t.Errorf("Connect() error = %v", err)
	}
}

func TestManager_CommandsRequireConnection(t *testing.T) {
	m := newTestManager(&dialRecorder{})
	ctx := context.Background()

	if err := m.Arm(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Arm() error = %v", err)
	}
	if err := m.Takeoff(ctx, 10); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Takeoff() error = %v", err)
	}
	if err := m.Execute(ctx, Land); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Execute(Land) error = %v", err)
	}
	if err := m.SendCoordinates(ctx, 1, 2, 10, 5, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCoordinates() error = %v", err)
	}
}

func TestManager_Arm(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	if err := m.Arm(context.Background()); err != nil {
		t.Fatalf("Arm() error = %v", err)
	}

	cmds := d.links[0].commands(common.MAV_CMD_COMPONENT_ARM_DISARM)
	if len(cmds) != 1 || cmds[0].Param1 != 1 || cmds[0].TargetSystem != 1 {
		t.Errorf("arm commands = %+v", cmds)
	}
}

func TestManager_ArmRejected(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	d.links[0].mu.Lock()
	d.links[0].reject[common.MAV_CMD_COMPONENT_ARM_DISARM] = true
	d.links[0].mu.Unlock()

	var cmdErr *mavlink.CommandError
	if err := m.Arm(context.Background()); !errors.As(err, &cmdErr) {
		t.Errorf("Arm() error = %v, want CommandError", err)
	}
}

func TestManager_TakeoffPX4(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	if err := m.Takeoff(context.Background(), 15); err != nil {
		t.Fatalf("Takeoff() error = %v", err)
	}

	link := d.links[0]
	link.mu.Lock()
	var param *common.MessageParamSet
	for _, msg := range link.sent {
		if p, ok := msg.(*common.MessageParamSet); ok {
			param = p
		}
	}
	link.mu.Unlock()

	if param == nil || param.ParamId != "MIS_TAKEOFF_ALT" || param.ParamValue != 15 {
		t.Errorf("PARAM_SET = %+v", param)
	}

	cmds := link.commands(common.MAV_CMD_NAV_TAKEOFF)
	if len(cmds) != 1 || !math.IsNaN(float64(cmds[0].Param7)) {
		t.Errorf("takeoff commands = %+v", cmds)
	}
}

func TestManager_TakeoffArduPilot(t *testing.T) {
	d := &dialRecorder{sys: mavlink.System{ID: 1, Component: 1, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA}}
	m := newTestManager(d)
	connect(t, m)

	if err := m.Execute(context.Background(), TakeOff); err != nil {
		t.Fatalf("Execute(TakeOff) error = %v", err)
	}

	cmds := d.links[0].commands(common.MAV_CMD_NAV_TAKEOFF)
	if len(cmds) != 1 || cmds[0].Param7 != 10 {
		t.Errorf("takeoff commands = %+v", cmds)
	}
}

func TestManager_Execute(t *testing.T) {
	tests := []struct {
		cmd  FlightCommand
		want common.MAV_CMD
	}{
		{Land, common.MAV_CMD_NAV_LAND},
		{ReturnToHome, common.MAV_CMD_NAV_RETURN_TO_LAUNCH},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			d := &dialRecorder{sys: px4}
			m := newTestManager(d)
			connect(t, m)

			if err := m.Execute(context.Background(), tt.cmd); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if n := len(d.links[0].commands(tt.want)); n != 1 {
				t.Errorf("sent %d %s commands, want 1", n, tt.want)
			}
		})
	}
}

func TestManager_SendCoordinates(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	if err := m.SendCoordinates(context.Background(), 47.39, 8.54, 20, 5, 90); err != nil {
		t.Fatalf("SendCoordinates() error = %v", err)
	}

	link := d.links[0]
	waitFor(t, "mission start", func() bool {
		return len(link.commands(common.MAV_CMD_MISSION_START)) == 1
	})

	speed := link.commands(common.MAV_CMD_DO_CHANGE_SPEED)
	if len(speed) != 1 || speed[0].Param2 != 5 {
		t.Errorf("speed commands = %+v", speed)
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	var waypoint *common.MessageMissionItemInt
	for _, msg := range link.sent {
		if item, ok := msg.(*common.MessageMissionItemInt); ok && item.Command == common.MAV_CMD_NAV_WAYPOINT {
			waypoint = item
		}
	}
	if waypoint == nil || waypoint.X != 473900000 || waypoint.Z != 20 || waypoint.Param2 != 1 || waypoint.Param4 != 90 {
		t.Errorf("waypoint = %+v", waypoint)
	}
}

func TestManager_SendCoordinatesArduPilot(t *testing.T) {
	d := &dialRecorder{sys: mavlink.System{ID: 1, Component: 1, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA}}
	m := newTestManager(d)
	connect(t, m)

	if err := m.SendCoordinates(context.Background(), 47.39, 8.54, 20, 0, 0); err != nil {
		t.Fatalf("SendCoordinates() error = %v", err)
	}

	link := d.links[0]
	waitFor(t, "mission start", func() bool {
		return len(link.commands(common.MAV_CMD_MISSION_START)) == 1
	})

	link.mu.Lock()
	defer link.mu.Unlock()

	var items []*common.MessageMissionItemInt
	for _, msg := range link.sent {
		if item, ok := msg.(*common.MessageMissionItemInt); ok {
			items = append(items, item)
		}
	}
	if len(items) != 2 || items[0].Seq != 0 || items[1].Seq != 1 || items[1].X != 473900000 {
		t.Errorf("mission items = %+v, want home placeholder then waypoint", items)
	}
}

func TestManager_SendCoordinatesSpeedFailureIsNotFatal(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	link := d.links[0]
	link.mu.Lock()
	link.reject[common.MAV_CMD_DO_CHANGE_SPEED] = true
	link.mu.Unlock()

	if err := m.SendCoordinates(context.Background(), 1, 2, 10, 5, 0); err != nil {
		t.Fatalf("SendCoordinates() error = %v", err)
	}

	waitFor(t, "mission start", func() bool {
		return len(link.commands(common.MAV_CMD_MISSION_START)) == 1
	})
}

func TestManager_TelemetryAndStatusText(t *testing.T) {
	j, err := journal.New(t.TempDir())
	if err != nil {
		t.Fatalf("journal.New() error = %v", err)
	}
	defer j.Close()

	d := &dialRecorder{sys: px4}
	m := newTestManager(d, WithLogger(slog.New(journal.NewHandler(j, nil))))
	connect(t, m)

	link := d.links[0]
	link.deliver(1, &common.MessageGlobalPositionInt{RelativeAlt: 12000, Hdg: math.MaxUint16})
	link.deliver(9, &common.MessageGlobalPositionInt{RelativeAlt: 99000, Hdg: math.MaxUint16})

	if got := m.Telemetry().Position().RelativeAltitudeM; got != 12 {
		t.Errorf("relative altitude = %v, want 12", got)
	}

	link.deliver(1, &common.MessageStatustext{Severity: common.MAV_SEVERITY_WARNING, Text: "Low battery"})
	link.deliver(1, &common.MessageStatustext{Severity: common.MAV_SEVERITY_CRITICAL, Text: "Failsafe"})

	var found int
	for _, e := range j.Panel().Recent(0) {
		switch {
		case e.Message == "vehicle: Low battery" && e.Level == journal.LevelWarning:
			found++
		case e.Message == "vehicle: Failsafe" && e.Level == journal.LevelError:
			found++
		}
	}
	if found != 2 {
		t.Errorf("status texts in journal = %d, want 2: %+v", found, j.Panel().Recent(0))
	}
}

func TestManager_ComponentHeartbeatKeepsState(t *testing.T) {
	d := &dialRecorder{sys: px4}
	m := newTestManager(d)
	connect(t, m)

	link := d.links[0]
	link.deliver(1, &common.MessageHeartbeat{
		Type:       common.MAV_TYPE_QUADROTOR,
		Autopilot:  common.MAV_AUTOPILOT_PX4,
		BaseMode:   common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED | common.MAV_MODE_FLAG_SAFETY_ARMED,
		CustomMode: 4<<16 | 4<<24,
	})
	// a companion on the same system claiming an autopilot
	link.deliverFrame(mavlink.Frame{SystemID: 1, ComponentID: 154, Message: &common.MessageHeartbeat{
		Type:      common.MAV_TYPE_GIMBAL,
		Autopilot: common.MAV_AUTOPILOT_GENERIC,
	}})

	h := m.Telemetry()
	if !h.Armed() || h.FlightMode() != telemetry.FlightModeMission {
		t.Errorf("Armed() = %v, FlightMode() = %v after a gimbal heartbeat", h.Armed(), h.FlightMode())
	}
}

func TestManager_GettersDuringConnect(t *testing.T) {
	d := &dialRecorder{}
	m := newTestManager(d, WithConnectTimeout(time.Second))

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background(), "/dev/ttyUSB0", 57600) }()

	waitFor(t, "dial", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.links) == 1
	})

	start := time.Now()
	if m.IsConnected() || m.Get() != nil || m.ConnectionString() != "" {
		t.Errorf("manager reports a connection while connecting")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("getters blocked for %v during Connect", elapsed)
	}

	if err := m.Connect(context.Background(), "/dev/ttyUSB0", 57600); !errors.Is(err, ErrConnecting) {
		t.Errorf("concurrent Connect() error = %v, want ErrConnecting", err)
	}
	if err := <-done; !errors.Is(err, mavlink.ErrNoSystem) {
		t.Errorf("Connect() error = %v, want ErrNoSystem", err)
	}
}

func TestParseFlightCommand(t *testing.T) {
	for _, cmd := range []FlightCommand{TakeOff, Land, ReturnToHome} {
		got, err := ParseFlightCommand(cmd.String())
		if err != nil || got != cmd {
			t.Errorf("ParseFlightCommand(%s) = %v, %v", cmd, got, err)
		}
	}
	if _, err := ParseFlightCommand("loop"); err == nil {
		t.Errorf("ParseFlightCommand(loop) error = nil")
	}
}
