package mavlink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	DefaultSystemID    = 245
	DefaultComponentID = 190

	// A system is considered lost when no heartbeat arrived for this long
	DefaultHeartbeatTimeout = 3 * time.Second
)

// Frame is a decoded message together with its sender
type Frame struct {
	SystemID    uint8
	ComponentID uint8
	Message     message.Message
}

// System identifies the autopilot discovered on a link
type System struct {
	ID        uint8                `json:"id"`
	Component uint8                `json:"component"`
	Autopilot common.MAV_AUTOPILOT `json:"autopilot"`
	Type      common.MAV_TYPE      `json:"type"`
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) func(*Link) {
	return func(l *Link) {
		l.logger = logger
	}
}

// WithSystemID sets the system and component id the station sends with
func WithSystemID(systemID, componentID uint8) func(*Link) {
	return func(l *Link) {
		l.systemID = systemID
		l.componentID = componentID
	}
}

// WithHeartbeatTimeout sets the heartbeat age after which the vehicle is considered lost
func WithHeartbeatTimeout(d time.Duration) func(*Link) {
	return func(l *Link) {
		if d > 0 {
			l.heartbeatTimeout = d
		}
	}
}

// Link is a MAVLink connection to a single vehicle. Incoming frames are dispatched
// to subscribers on the link's event goroutine; subscribers must not block.
type Link struct {
	url              string
	node             *gomavlib.Node
	systemID         uint8
	componentID      uint8
	heartbeatTimeout time.Duration

	mu            sync.RWMutex
	subs          map[int]func(Frame)
	nextID        int
	system        System
	lastHeartbeat time.Time
	discovered    chan struct{}
	closed        bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
	now    func() time.Time
}

func newLink(url string, options ...func(*Link)) *Link {
	l := &Link{
		url:              url,
		systemID:         DefaultSystemID,
		componentID:      DefaultComponentID,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		subs:             make(map[int]func(Frame)),
		discovered:       make(chan struct{}),
		done:             make(chan struct{}),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:              time.Now,
	}

	for _, option := range options {
		option(l)
	}

	return l
}

// Dial opens the endpoint described by url and starts receiving frames
func Dial(url string, options ...func(*Link)) (*Link, error) {
	endpoint, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	l := newLink(url, options...)

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:           []gomavlib.EndpointConf{endpoint},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         l.systemID,
		OutComponentID:      l.componentID,
		HeartbeatDisable:    false,
		StreamRequestEnable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}

	l.node = node
	l.wg.Add(1)
	go l.run()

	l.logger.Info("link opened", "url", url)
	return l, nil
}

func (l *Link) run() {
	defer l.wg.Done()

	for evt := range l.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventChannelOpen:
			l.logger.Debug("channel open", "channel", e.Channel)
		case *gomavlib.EventChannelClose:
			l.logger.Debug("channel closed", "channel", e.Channel)
		case *gomavlib.EventParseError:
			l.logger.Debug("parse error", "error", e.Error)
		case *gomavlib.EventFrame:
			l.dispatch(Frame{
				SystemID:    e.SystemID(),
				ComponentID: e.ComponentID(),
				Message:     e.Message(),
			})
		}
	}
}

func (l *Link) dispatch(f Frame) {
	if hb, ok := f.Message.(*common.MessageHeartbeat); ok {
		l.observeHeartbeat(f, hb)
	}

	l.mu.RLock()
	subs := make([]func(Frame), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.RUnlock()

	for _, fn := range subs {
		fn(f)
	}
}

// observeHeartbeat records the first autopilot seen on the link and refreshes
// its heartbeat time. Ground stations and onboard peripherals are ignored.
func (l *Link) observeHeartbeat(f Frame, hb *common.MessageHeartbeat) {
	if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.discovered:
		if f.SystemID != l.system.ID {
			return
		}
	default:
		l.system = System{
			ID:        f.SystemID,
			Component: f.ComponentID,
			Autopilot: hb.Autopilot,
			Type:      hb.Type,
		}
		close(l.discovered)
		l.logger.Info("system discovered", "system", f.SystemID, "component", f.ComponentID, "autopilot", hb.Autopilot)
	}

	l.lastHeartbeat = l.now()
}

// URL returns the url the link was opened with
func (l *Link) URL() string {
	return l.url
}

// Subscribe registers fn for every received frame and returns a function removing it
func (l *Link) Subscribe(fn func(Frame)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// WaitSystem blocks until an autopilot heartbeat arrives, ctx is done or the
// link is closed.
func (l *Link) WaitSystem(ctx context.Context) (System, error) {
	select {
	case <-l.discovered:
		return l.System(), nil
	case <-l.done:
		return System{}, ErrClosed
	case <-ctx.Done():
		return System{}, fmt.Errorf("%w: %w", ErrNoSystem, ctx.Err())
	}
}

// System returns the discovered autopilot, if any
func (l *Link) System() System {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.system
}

// IsConnected reports whether the vehicle sent a heartbeat recently
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed || l.lastHeartbeat.IsZero() {
		return false
	}
	return l.now().Sub(l.lastHeartbeat) < l.heartbeatTimeout
}

// WriteMessage sends msg on all channels of the link
func (l *Link) WriteMessage(msg message.Message) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed || l.node == nil {
		return ErrClosed
	}

	l.node.WriteMessageAll(msg)
	return nil
}

// Close closes the link and waits for the event goroutine to exit
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		close(l.done)
		if l.node != nil {
			l.node.Close()
		}
		l.wg.Wait()

		l.logger.Info("link closed", "url", l.url)
	})

	return nil
}
