package console

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/serialport"
	"github.com/roman-kulish/ground-station/internal/telemetry"
	"github.com/roman-kulish/ground-station/internal/uav"
)

//go:embed ui
var uiFS embed.FS

const (
	DefaultTelemetryInterval = 200 * time.Millisecond
	DefaultShutdownTimeout   = 10 * time.Second
)

// Vehicle is the vehicle connection the console drives
type Vehicle interface {
	telemetry.Provider
	Connect(ctx context.Context, port string, baud int) error
	Disconnect() error
	IsConnected() bool
	HeartbeatOK() bool
	ConnectionString() string
	System() (mavlink.System, bool)
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Takeoff(ctx context.Context, height float32) error
	Execute(ctx context.Context, cmd uav.FlightCommand) error
	SendCoordinates(ctx context.Context, lat, lon float64, alt, speed, yaw float32) error
	Subscribe(fn func(uav.Event)) func()
}

// Cameras is the camera session the console drives
type Cameras interface {
	AvailableCameras() ([]string, error)
	Connect(ctx context.Context, name string) error
	Disconnect() error
	IsConnected() bool
	Current() string
	Subscribe(fn func(camera.Event)) func()
}

type Config struct {
	Host              string
	Port              int
	TelemetryInterval time.Duration
	ShutdownTimeout   time.Duration

	// Origins besides the console itself allowed to call the API,
	// e.g. "http://localhost:3000"
	AllowedOrigins []string
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStream serves the camera preview
func WithStream(stream http.Handler) func(*Server) {
	return func(s *Server) {
		s.stream = stream
	}
}

// WithPanel shows journal entries in the status panel
func WithPanel(panel *journal.Panel) func(*Server) {
	return func(s *Server) {
		s.panel = panel
	}
}

// Server is the operator console: a JSON API, the embedded UI, websocket
// push and the camera preview.
type Server struct {
	http    *http.Server
	cfg     Config
	hub     *Hub
	vehicle Vehicle
	cameras Cameras
	ports   serialport.Lister
	panel   *journal.Panel
	stream  http.Handler
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, vehicle Vehicle, cameras Cameras, ports serialport.Lister, options ...func(*Server)) *Server {
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:     cfg,
		vehicle: vehicle,
		cameras: cameras,
		ports:   ports,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}

	for _, option := range options {
		option(s)
	}

	s.hub = NewHub(s.logger, WithOriginCheck(s.sameOrigin))
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the console routes
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)

	api.HandleFunc("/vehicle/connect", s.handleVehicleConnect).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/disconnect", s.handleVehicleDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/status", s.handleVehicleStatus).Methods(http.MethodGet)
	api.HandleFunc("/vehicle/telemetry", s.handleVehicleTelemetry).Methods(http.MethodGet)
	api.HandleFunc("/vehicle/arm", s.handleArm).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/disarm", s.handleDisarm).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/takeoff", s.handleTakeoff).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/goto", s.handleGoto).Methods(http.MethodPost)
	api.HandleFunc("/vehicle/command", s.handleCommand).Methods(http.MethodPost)

	api.HandleFunc("/cameras", s.handleCameras).Methods(http.MethodGet)
	api.HandleFunc("/camera/connect", s.handleCameraConnect).Methods(http.MethodPost)
	api.HandleFunc("/camera/disconnect", s.handleCameraDisconnect).Methods(http.MethodPost)

	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	r.HandleFunc("/camera/stream", s.handleCameraStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	ui, _ := fs.Sub(uiFS, "ui")
	r.PathPrefix("/").Handler(http.FileServerFS(ui)).Methods(http.MethodGet)

	headersOk := handlers.AllowedHeaders([]string{"Content-Type"})
	originsOk := handlers.AllowedOriginValidator(s.originAllowed)
	methodsOk := handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions})

	return handlers.CORS(originsOk, headersOk, methodsOk)(s.guard(r))
}

// guard rejects browser requests made by pages served from other origins.
// Requests without an Origin header come from non-browser clients.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.sameOrigin(r) {
			s.logger.Warn("cross-origin request rejected", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeError(w, http.StatusForbidden, errors.New("origin not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host) || s.originAllowed(origin)
}

func (s *Server) originAllowed(origin string) bool {
	return slices.ContainsFunc(s.cfg.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(strings.TrimSuffix(o, "/"), origin)
	})
}

// Start serves the console until ctx is done
func (s *Server) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.push(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "url", fmt.Sprintf("http://%s", s.http.Addr))
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		err = fmt.Errorf("serving console: %w", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shCancel()
	if sErr := s.http.Shutdown(shCtx); sErr != nil {
		s.logger.Warn("console shutdown", "error", sErr)
	} else {
		s.logger.Info("console stopped")
	}

	return err
}

// push forwards vehicle, camera and journal events and the periodic telemetry
// and clock messages to the websocket clients
func (s *Server) push(ctx context.Context) {
	unsubscribeVehicle := s.vehicle.Subscribe(func(uav.Event) {
		s.hub.Broadcast(TypeStatus, s.status())
	})
	defer unsubscribeVehicle()

	unsubscribeCamera := s.cameras.Subscribe(func(e camera.Event) {
		s.hub.Broadcast(TypeCamera, toCameraData(e))
	})
	defer unsubscribeCamera()

	var entries <-chan journal.Entry
	if s.panel != nil {
		var unsubscribePanel func()
		entries, unsubscribePanel = s.panel.Subscribe(64)
		defer unsubscribePanel()
	}

	clock := time.NewTicker(time.Second)
	defer clock.Stop()

	telemetryTicker := time.NewTicker(s.cfg.TelemetryInterval)
	defer telemetryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-clock.C:
			s.hub.Broadcast(TypeClock, toClockData(t))

		case <-telemetryTicker.C:
			if t := s.vehicle.Get(); t != nil {
				s.hub.Broadcast(TypeTelemetry, t)
			}

		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			s.hub.Broadcast(TypeLog, toLogData(e))
		}
	}
}

func (s *Server) status() statusData {
	st := statusData{
		Connected:  s.vehicle.IsConnected(),
		Heartbeat:  s.vehicle.HeartbeatOK(),
		Connection: s.vehicle.ConnectionString(),
	}
	if system, ok := s.vehicle.System(); ok {
		st.System = &system
	}
	return st
}
