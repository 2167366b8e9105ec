package mavlink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	DefaultCommandTimeout = time.Second
	DefaultCommandRetries = 3
)

// Writer sends messages to the vehicle
type Writer interface {
	WriteMessage(msg message.Message) error
}

// WithCommandLogger sets logger
func WithCommandLogger(logger *slog.Logger) func(*Commander) {
	return func(c *Commander) {
		c.logger = logger
	}
}

// WithRetries sets how long to wait for an answer and how many times a request is sent
func WithRetries(timeout time.Duration, retries int) func(*Commander) {
	return func(c *Commander) {
		if timeout > 0 {
			c.timeout = timeout
		}
		if retries > 0 {
			c.retries = retries
		}
	}
}

// Commander sends COMMAND_LONG requests and mission uploads to one system and
// matches the answers routed to it through HandleFrame.
type Commander struct {
	w       Writer
	target  System
	timeout time.Duration
	retries int

	mu        sync.Mutex
	pending   map[common.MAV_CMD]chan *common.MessageCommandAck
	params    map[string]chan *common.MessageParamValue
	missionIn chan message.Message

	missionMu sync.Mutex

	logger *slog.Logger
}

func NewCommander(w Writer, target System, options ...func(*Commander)) *Commander {
	c := &Commander{
		w:       w,
		target:  target,
		timeout: DefaultCommandTimeout,
		retries: DefaultCommandRetries,
		pending: make(map[common.MAV_CMD]chan *common.MessageCommandAck),
		params:  make(map[string]chan *common.MessageParamValue),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// HandleFrame routes acknowledgements and mission protocol messages from the
// target system to the waiting request.
func (c *Commander) HandleFrame(f Frame) {
	if f.SystemID != c.target.ID {
		return
	}

	switch m := f.Message.(type) {
	case *common.MessageCommandAck:
		c.mu.Lock()
		ch := c.pending[m.Command]
		c.mu.Unlock()

		if ch != nil {
			select {
			case ch <- m:
			default:
				c.logger.Debug("dropped command ack", "command", m.Command, "result", m.Result)
			}
		}

	case *common.MessageParamValue:
		c.mu.Lock()
		ch := c.params[m.ParamId]
		c.mu.Unlock()

		if ch != nil {
			select {
			case ch <- m:
			default:
			}
		}

	case *common.MessageMissionRequestInt, *common.MessageMissionRequest, *common.MessageMissionAck:
		c.mu.Lock()
		ch := c.missionIn
		c.mu.Unlock()

		if ch != nil {
			select {
			case ch <- f.Message:
			default:
			}
		}
	}
}

// Send sends cmd and waits for the vehicle to accept it. An IN_PROGRESS answer
// extends the wait; unanswered requests are retransmitted with an increasing
// confirmation number.
func (c *Commander) Send(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	var p [7]float32
	copy(p[:], params)

	ch := make(chan *common.MessageCommandAck, 4)

	c.mu.Lock()
	if _, busy := c.pending[cmd]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, cmd)
	}
	c.pending[cmd] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for attempt := 0; attempt < c.retries; attempt++ {
		msg := &common.MessageCommandLong{
			TargetSystem:    c.target.ID,
			TargetComponent: c.target.Component,
			Command:         cmd,
			Confirmation:    uint8(attempt),
			Param1:          p[0],
			Param2:          p[1],
			Param3:          p[2],
			Param4:          p[3],
			Param5:          p[4],
			Param6:          p[5],
			Param7:          p[6],
		}
		if err := c.w.WriteMessage(msg); err != nil {
			return fmt.Errorf("sending %s: %w", cmd, err)
		}

		resetTimer(timer, c.timeout)

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()

			case <-timer.C:
				c.logger.Debug("command not acknowledged", "command", cmd, "attempt", attempt+1)
				break wait

			case ack := <-ch:
				switch ack.Result {
				case common.MAV_RESULT_ACCEPTED:
					return nil
				case common.MAV_RESULT_IN_PROGRESS:
					resetTimer(timer, c.timeout)
				default:
					return &CommandError{Command: cmd, Result: ack.Result}
				}
			}
		}
	}

	return fmt.Errorf("%w: %s", ErrCommandTimeout, cmd)
}

// SetParameter writes a float parameter and waits for the vehicle to echo it back
func (c *Commander) SetParameter(ctx context.Context, name string, value float32) error {
	if len(name) > 16 {
		return fmt.Errorf("setting parameter %s: name longer than 16 characters", name)
	}

	ch := make(chan *common.MessageParamValue, 4)

	c.mu.Lock()
	if _, busy := c.params[name]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: parameter %s", ErrBusy, name)
	}
	c.params[name] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.params, name)
		c.mu.Unlock()
	}()

	msg := &common.MessageParamSet{
		TargetSystem:    c.target.ID,
		TargetComponent: c.target.Component,
		ParamId:         name,
		ParamValue:      value,
		ParamType:       common.MAV_PARAM_TYPE_REAL32,
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for attempt := 0; attempt < c.retries; attempt++ {
		if err := c.w.WriteMessage(msg); err != nil {
			return fmt.Errorf("setting parameter %s: %w", name, err)
		}

		resetTimer(timer, c.timeout)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case echo := <-ch:
			if echo.ParamValue != value {
				return fmt.Errorf("setting parameter %s: vehicle kept %v", name, echo.ParamValue)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: parameter %s", ErrCommandTimeout, name)
}

// SetMessageInterval asks the vehicle to stream msgID at the given interval
func (c *Commander) SetMessageInterval(ctx context.Context, msgID uint32, interval time.Duration) error {
	return c.Send(ctx, common.MAV_CMD_SET_MESSAGE_INTERVAL, float32(msgID), float32(interval.Microseconds()))
}

// StartMission starts the uploaded mission from the first item
func (c *Commander) StartMission(ctx context.Context) error {
	return c.Send(ctx, common.MAV_CMD_MISSION_START, 0, 0)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
