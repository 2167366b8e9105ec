package mavlink

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Hold time at a waypoint that is not flown through
const stopHoldSeconds = 0.5

// MissionItem is a waypoint in the global frame with altitude relative to home
type MissionItem struct {
	Latitude         float64 // degrees
	Longitude        float64 // degrees
	RelativeAltitude float32 // meters
	Speed            float32 // m/s; zero keeps the current speed
	Yaw              float32 // degrees; NaN keeps the current heading
	FlyThrough       bool
	AcceptanceRadius float32 // meters
}

// missionItems converts items to the wire representation. A speed change
// precedes every waypoint that sets a speed. ArduPilot keeps the home position
// in seq 0 and overwrites it, so a placeholder takes that slot.
func (c *Commander) missionItems(items []MissionItem) []*common.MessageMissionItemInt {
	if len(items) == 0 {
		return nil
	}

	var out []*common.MessageMissionItemInt

	add := func(m *common.MessageMissionItemInt) {
		m.TargetSystem = c.target.ID
		m.TargetComponent = c.target.Component
		m.Seq = uint16(len(out))
		m.Autocontinue = 1
		m.MissionType = common.MAV_MISSION_TYPE_MISSION
		out = append(out, m)
	}

	first := 0
	if c.target.Autopilot == common.MAV_AUTOPILOT_ARDUPILOTMEGA {
		add(&common.MessageMissionItemInt{
			Frame:   common.MAV_FRAME_GLOBAL_INT,
			Command: common.MAV_CMD_NAV_WAYPOINT,
		})
		first = 1
	}

	for _, item := range items {
		if item.Speed > 0 {
			add(&common.MessageMissionItemInt{
				Frame:   common.MAV_FRAME_MISSION,
				Command: common.MAV_CMD_DO_CHANGE_SPEED,
				Param1:  1, // ground speed
				Param2:  item.Speed,
				Param3:  -1,
			})
		}

		var hold float32
		if !item.FlyThrough {
			hold = stopHoldSeconds
		}

		add(&common.MessageMissionItemInt{
			Frame:   common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
			Command: common.MAV_CMD_NAV_WAYPOINT,
			Param1:  hold,
			Param2:  item.AcceptanceRadius,
			Param4:  item.Yaw,
			X:       int32(math.Round(item.Latitude * 1e7)),
			Y:       int32(math.Round(item.Longitude * 1e7)),
			Z:       item.RelativeAltitude,
		})
	}

	out[first].Current = 1
	return out
}

// UploadMission replaces the vehicle mission with items
func (c *Commander) UploadMission(ctx context.Context, items []MissionItem) error {
	wire := c.missionItems(items)
	if len(wire) == 0 {
		return fmt.Errorf("uploading mission: no items")
	}

	c.missionMu.Lock()
	defer c.missionMu.Unlock()

	in := make(chan message.Message, 8)
	c.mu.Lock()
	c.missionIn = in
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.missionIn = nil
		c.mu.Unlock()
	}()

	var last message.Message = &common.MessageMissionCount{
		TargetSystem:    c.target.ID,
		TargetComponent: c.target.Component,
		Count:           uint16(len(wire)),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if err := c.w.WriteMessage(last); err != nil {
		return fmt.Errorf("sending mission count: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	attempts := 1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			if attempts >= c.retries {
				return fmt.Errorf("%w: mission upload", ErrCommandTimeout)
			}
			attempts++
			if err := c.w.WriteMessage(last); err != nil {
				return fmt.Errorf("resending mission message: %w", err)
			}
			timer.Reset(c.timeout)

		case m := <-in:
			var seq uint16

			switch req := m.(type) {
			case *common.MessageMissionAck:
				if req.Type != common.MAV_MISSION_ACCEPTED {
					return &MissionError{Result: req.Type}
				}
				c.logger.Debug("mission uploaded", "items", len(wire))
				return nil
			case *common.MessageMissionRequestInt:
				seq = req.Seq
			case *common.MessageMissionRequest:
				seq = req.Seq
			default:
				continue
			}

			if int(seq) >= len(wire) {
				return fmt.Errorf("uploading mission: vehicle requested item %d of %d", seq, len(wire))
			}

			last = wire[seq]
			if err := c.w.WriteMessage(last); err != nil {
				return fmt.Errorf("sending mission item %d: %w", seq, err)
			}

			attempts = 1
			resetTimer(timer, c.timeout)
		}
	}
}
