package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/serialport"
	"github.com/roman-kulish/ground-station/internal/telemetry"
	"github.com/roman-kulish/ground-station/internal/uav"
)

type fakeVehicle struct {
	mu        sync.Mutex
	connected bool
	port      string
	baud      int
	calls     []string
	err       error
	listeners []func(uav.Event)
}

func (v *fakeVehicle) record(call string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, call)
	return v.err
}

func (v *fakeVehicle) Connect(_ context.Context, port string, baud int) error {
	if err := v.record("connect"); err != nil {
		return err
	}
	v.mu.Lock()
	v.connected, v.port, v.baud = true, port, baud
	listeners := v.listeners
	v.mu.Unlock()
	for _, fn := range listeners {
		fn(uav.Connected)
	}
	return nil
}

func (v *fakeVehicle) Disconnect() error {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	return v.record("disconnect")
}

func (v *fakeVehicle) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *fakeVehicle) HeartbeatOK() bool { return v.IsConnected() }

func (v *fakeVehicle) ConnectionString() string {
	if !v.IsConnected() {
		return ""
	}
	return uav.ConnectionString(v.port, v.baud)
}

func (v *fakeVehicle) System() (mavlink.System, bool) {
	return mavlink.System{ID: 1, Component: 1, Autopilot: common.MAV_AUTOPILOT_PX4, Type: common.MAV_TYPE_QUADROTOR}, v.IsConnected()
}

func (v *fakeVehicle) Get() *telemetry.Telemetry {
	if !v.IsConnected() {
		return nil
	}
	alt := 12.5
	return &telemetry.Telemetry{Altitude: &alt}
}

func (v *fakeVehicle) Arm(context.Context) error    { return v.record("arm") }
func (v *fakeVehicle) Disarm(context.Context) error { return v.record("disarm") }

func (v *fakeVehicle) Takeoff(_ context.Context, height float32) error {
	return v.record("takeoff")
}

func (v *fakeVehicle) Execute(_ context.Context, cmd uav.FlightCommand) error {
	return v.record("execute " + cmd.String())
}

func (v *fakeVehicle) SendCoordinates(context.Context, float64, float64, float32, float32, float32) error {
	return v.record("goto")
}

func (v *fakeVehicle) Subscribe(fn func(uav.Event)) func() {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
	return func() {}
}

func (v *fakeVehicle) history() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

type fakeCameras struct {
	current string
	err     error
}

func (c *fakeCameras) AvailableCameras() ([]string, error) { return []string{"HD Webcam"}, nil }

func (c *fakeCameras) Connect(_ context.Context, name string) error {
	if name == "" {
		return camera.ErrNoCamera
	}
	if name != "HD Webcam" {
		return camera.ErrCameraNotFound
	}
	c.current = name
	return c.err
}

func (c *fakeCameras) Disconnect() error                   { c.current = ""; return nil }
func (c *fakeCameras) IsConnected() bool                   { return c.current != "" }
func (c *fakeCameras) Current() string                     { return c.current }
func (c *fakeCameras) Subscribe(func(camera.Event)) func() { return func() {} }

type fakeLister struct{}

func (fakeLister) List() ([]serialport.Port, error) {
	return []serialport.Port{{Name: "/dev/ttyUSB0", IsUSB: true}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeVehicle, *fakeCameras, *httptest.Server) {
	t.Helper()

	vehicle := &fakeVehicle{}
	cameras := &fakeCameras{}
	panel := journal.NewPanel(10)
	s := New(Config{}, vehicle, cameras, fakeLister{}, WithPanel(panel),
		WithStream(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary=MJPEGBOUNDARY")
		})))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, vehicle, cameras, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestServer_Connections(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	res, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/connections", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	connections := body["connections"].([]any)
	if len(connections) != 2 || connections[1] != serialport.Simulation {
		t.Errorf("connections = %v", connections)
	}
	if body["defaultBaudRate"].(float64) != serialport.DefaultBaudRate {
		t.Errorf("defaultBaudRate = %v", body["defaultBaudRate"])
	}
	if cams := body["cameras"].([]any); len(cams) != 1 || cams[0] != "HD Webcam" {
		t.Errorf("cameras = %v", cams)
	}
}

func TestServer_VehicleConnect(t *testing.T) {
	_, vehicle, _, ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing port", connectRequest{Baud: 57600}, http.StatusBadRequest},
		{"bad baud", connectRequest{Port: "/dev/ttyUSB0", Baud: 1234}, http.StatusBadRequest},
		{"unknown field", map[string]any{"port": "/dev/ttyUSB0", "speed": 1}, http.StatusBadRequest},
		{"ok", connectRequest{Port: serialport.Simulation, Baud: 14550}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/vehicle/connect", tt.body)
			if res.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}

	res, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/vehicle/status", nil)
	if res.StatusCode != http.StatusOK || body["connected"] != true || body["connection"] != "udp://:14550" {
		t.Errorf("status = %d %v", res.StatusCode, body)
	}
	if system := body["system"].(map[string]any); system["autopilot"] != "MAV_AUTOPILOT_PX4" {
		t.Errorf("system = %v", system)
	}

	res, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/vehicle/telemetry", nil)
	if res.StatusCode != http.StatusOK || body["altitude"] != 12.5 {
		t.Errorf("telemetry = %d %v", res.StatusCode, body)
	}

	if got := vehicle.history(); len(got) != 1 || got[0] != "connect" {
		t.Errorf("calls = %v", got)
	}
}

func TestServer_VehicleCommands(t *testing.T) {
	_, vehicle, _, ts := newTestServer(t)

	requests := []struct {
		path string
		body any
		want int
	}{
		{"/api/v1/vehicle/arm", nil, http.StatusOK},
		{"/api/v1/vehicle/takeoff", takeoffRequest{Height: 15}, http.StatusOK},
		{"/api/v1/vehicle/takeoff", takeoffRequest{Height: 0}, http.StatusBadRequest},
		{"/api/v1/vehicle/command", commandRequest{Command: "rth"}, http.StatusOK},
		{"/api/v1/vehicle/command", commandRequest{Command: "flip"}, http.StatusBadRequest},
		{"/api/v1/vehicle/goto", gotoRequest{Latitude: 47.39, Longitude: 8.54, Altitude: 20, Speed: 5}, http.StatusAccepted},
		{"/api/v1/vehicle/goto", gotoRequest{Latitude: 91}, http.StatusBadRequest},
		{"/api/v1/vehicle/disarm", nil, http.StatusOK},
	}
	for _, r := range requests {
		if res, body := doJSON(t, http.MethodPost, ts.URL+r.path, r.body); res.StatusCode != r.want {
			t.Errorf("POST %s = %d %v, want %d", r.path, res.StatusCode, body, r.want)
		}
	}

	want := []string{"arm", "takeoff", "execute rth", "goto", "disarm"}
	got := vehicle.history()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestServer_Origins(t *testing.T) {
	vehicle := &fakeVehicle{}
	s := New(Config{AllowedOrigins: []string{"http://localhost:3000"}}, vehicle, &fakeCameras{}, fakeLister{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	post := func(origin, contentType string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/vehicle/takeoff", strings.NewReader(`{"height":10}`))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", contentType)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		return res
	}

	tests := []struct {
		name        string
		origin      string
		contentType string
		want        int
	}{
		{"foreign page", "http://evil.example", "application/json", http.StatusForbidden},
		{"foreign form", "http://evil.example", "text/plain", http.StatusForbidden},
		{"plain text", "", "text/plain", http.StatusUnsupportedMediaType},
		{"own ui", ts.URL, "application/json", http.StatusOK},
		{"configured origin", "http://localhost:3000", "application/json; charset=utf-8", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := post(tt.origin, tt.contentType); res.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}

	if got := vehicle.history(); len(got) != 2 {
		t.Errorf("calls = %v, want two takeoffs", got)
	}
	if res := post("http://localhost:3000", "application/json"); res.Header.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", res.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/vehicle/takeoff", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("preflight allow-origin = %q for a foreign origin", got)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		conn.Close()
		t.Fatalf("websocket from a foreign origin accepted")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Errorf("websocket handshake response = %v", res)
	}
}

func TestServer_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{uav.ErrNotConnected, http.StatusConflict},
		{uav.ErrConnecting, http.StatusConflict},
		{mavlink.ErrBusy, http.StatusConflict},
		{&mavlink.CommandError{Command: common.MAV_CMD_COMPONENT_ARM_DISARM, Result: common.MAV_RESULT_DENIED}, http.StatusBadGateway},
		{mavlink.ErrCommandTimeout, http.StatusGatewayTimeout},
		{mavlink.ErrNoSystem, http.StatusGatewayTimeout},
		{camera.ErrUnsupported, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		_, vehicle, _, ts := newTestServer(t)
		vehicle.err = tt.err

		res, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/vehicle/arm", nil)
		if res.StatusCode != tt.want {
			t.Errorf("arm with %v = %d, want %d", tt.err, res.StatusCode, tt.want)
		}
		if body["error"] == nil {
			t.Errorf("arm with %v: no error in body", tt.err)
		}
	}
}

func TestServer_Cameras(t *testing.T) {
	_, _, cameras, ts := newTestServer(t)

	if res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/camera/connect", cameraRequest{}); res.StatusCode != http.StatusBadRequest {
		t.Errorf("empty name = %d", res.StatusCode)
	}
	if res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/camera/connect", cameraRequest{Name: "Rear"}); res.StatusCode != http.StatusNotFound {
		t.Errorf("unknown camera = %d", res.StatusCode)
	}
	if res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/camera/connect", cameraRequest{Name: "HD Webcam"}); res.StatusCode != http.StatusOK {
		t.Errorf("connect = %d", res.StatusCode)
	}

	_, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/cameras", nil)
	if body["current"] != "HD Webcam" || body["connected"] != true {
		t.Errorf("cameras = %v", body)
	}

	res, err := http.Get(ts.URL + "/camera/stream")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Errorf("stream content type = %q", res.Header.Get("Content-Type"))
	}

	if res, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/camera/disconnect", nil); res.StatusCode != http.StatusOK || cameras.IsConnected() {
		t.Errorf("disconnect = %d, connected = %v", res.StatusCode, cameras.IsConnected())
	}
}

func TestServer_Logs(t *testing.T) {
	s, _, _, ts := newTestServer(t)

	s.panel.Publish(journal.Entry{Time: time.Now(), Level: journal.LevelInfo, Message: "one"})
	s.panel.Publish(journal.Entry{Time: time.Now(), Level: journal.LevelError, Message: "two"})

	res, err := http.Get(ts.URL + "/api/v1/logs?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var entries []logData
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message != "two" || entries[0].Level != "ERROR" {
		t.Errorf("logs = %+v", entries)
	}
	if !strings.Contains(entries[0].HTML, "#ff4757") {
		t.Errorf("html = %q", entries[0].HTML)
	}

	if res, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/logs?limit=x", nil); res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit = %d", res.StatusCode)
	}
}

func TestServer_UI(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	if res.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "<title>Ground Station</title>") {
		t.Errorf("index = %d", res.StatusCode)
	}
}

func TestServer_Websocket(t *testing.T) {
	s, vehicle, _, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	go s.push(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func(want string) Message {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				t.Fatalf("waiting for %s: %v", want, err)
			}
			if m.Type == want {
				return m
			}
		}
	}

	if m := read(TypeStatus); m.Data.(map[string]any)["connected"] != false {
		t.Errorf("initial status = %v", m.Data)
	}
	read(TypeClock)

	for s.hub.Clients(ctx) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	if err := vehicle.Connect(ctx, "/dev/ttyUSB0", 57600); err != nil {
		t.Fatal(err)
	}
	if m := read(TypeStatus); m.Data.(map[string]any)["connected"] != true {
		t.Errorf("status after connect = %v", m.Data)
	}
	if m := read(TypeTelemetry); m.Data.(map[string]any)["altitude"] != 12.5 {
		t.Errorf("telemetry = %v", m.Data)
	}

	s.panel.Publish(journal.Entry{Time: time.Now(), Level: journal.LevelWarning, Message: "battery low"})
	if m := read(TypeLog); m.Data.(map[string]any)["message"] != "battery low" {
		t.Errorf("log = %v", m.Data)
	}
}
