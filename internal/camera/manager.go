package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// WithLogger sets logger
func WithLogger(logger *slog.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithFormat sets the capture format
func WithFormat(f Format) func(*Manager) {
	return func(m *Manager) {
		m.format = f
	}
}

// WithFrameHook sets a hook applied to every frame before it is displayed
func WithFrameHook(hook FrameHook) func(*Manager) {
	return func(m *Manager) {
		m.hook = hook
	}
}

type session struct {
	name    string
	capture Capture
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager runs at most one capture at a time and feeds its frames to a sink
type Manager struct {
	// serializes Connect and Disconnect
	opMu sync.Mutex

	mu      sync.Mutex
	current *session

	listenersMu sync.RWMutex
	listeners   map[int]func(Event)
	nextID      int

	backend Backend
	sink    Sink
	format  Format
	hook    FrameHook
	logger  *slog.Logger
}

func NewManager(backend Backend, sink Sink, options ...func(*Manager)) *Manager {
	m := &Manager{
		listeners: make(map[int]func(Event)),
		backend:   backend,
		sink:      sink,
		format:    DefaultFormat,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// Subscribe registers fn for camera events and returns a function removing it
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

// AvailableCameras returns the names of the capture devices
func (m *Manager) AvailableCameras() ([]string, error) {
	devices, err := m.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing cameras: %w", err)
	}
	return describe(devices), nil
}

// Connect starts capturing from the camera called name. A running capture is
// stopped first.
func (m *Manager) Connect(ctx context.Context, name string) error {
	if name == "" {
		m.logger.Warn("no camera selected")
		return ErrNoCamera
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.stop(); err != nil {
		m.logger.Warn("stopping previous camera", "error", err)
	}

	devices, err := m.backend.Devices()
	if err != nil {
		return fmt.Errorf("listing cameras: %w", err)
	}

	var device *Device
	for i, n := range describe(devices) {
		if n == name {
			device = &devices[i]
			break
		}
	}
	if device == nil {
		m.logger.Error("camera not found", "camera", name)
		return fmt.Errorf("%w: %s", ErrCameraNotFound, name)
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	capture, err := m.backend.Open(captureCtx, *device, m.format)
	if err != nil {
		cancel()
		m.logger.Error("camera start failed", "camera", name, "error", err)
		return fmt.Errorf("starting camera %s: %w", name, err)
	}

	s := &session{
		name:    name,
		capture: capture,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	go m.pump(captureCtx, s)

	m.logger.Info("camera started", "camera", name, "path", device.Path,
		"width", m.format.Width, "height", m.format.Height, "fps", m.format.FPS)
	m.emit(Event{Type: Started, Camera: name})
	return nil
}

func (m *Manager) pump(ctx context.Context, s *session) {
	defer close(s.done)

	frames := s.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				m.streamEnded(s)
				return
			}
			if len(frame) == 0 {
				continue
			}
			if m.hook != nil {
				frame = m.hook(frame)
			}
			m.sink.UpdateJPEG(frame)
		}
	}
}

// streamEnded handles a capture that stopped on its own, e.g. an unplugged camera
func (m *Manager) streamEnded(s *session) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()

	s.cancel()
	if err := s.capture.Close(); err != nil {
		m.logger.Debug("closing camera", "camera", s.name, "error", err)
	}

	m.logger.Warn("camera stream ended", "camera", s.name)
	m.emit(Event{Type: Stopped, Camera: s.name})
}

// Disconnect stops the running capture. It is a no-op when none runs.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stop()
}

func (m *Manager) stop() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	s.cancel()
	err := s.capture.Close()
	<-s.done

	m.logger.Info("camera stopped", "camera", s.name)
	m.emit(Event{Type: Stopped, Camera: s.name})

	if err != nil {
		return fmt.Errorf("stopping camera %s: %w", s.name, err)
	}
	return nil
}

// IsConnected reports whether a capture is running
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Current returns the name of the running camera, or ""
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ""
	}
	return m.current.name
}
