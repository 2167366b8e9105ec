package mavlink

import (
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

var (
	ErrInvalidURL      = errors.New("mavlink: invalid connection url")
	ErrBaudrateUnknown = errors.New("mavlink: unknown baud rate")
	ErrNoSystem        = errors.New("mavlink: no system discovered")
	ErrClosed          = errors.New("mavlink: link closed")
	ErrBusy            = errors.New("mavlink: command already in progress")
	ErrCommandTimeout  = errors.New("mavlink: command timed out")
)

// CommandError is returned when the vehicle rejects a command
type CommandError struct {
	Command common.MAV_CMD
	Result  common.MAV_RESULT
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mavlink: %s rejected: %s", e.Command, e.Result)
}

// MissionError is returned when the vehicle rejects a mission upload
type MissionError struct {
	Result common.MAV_MISSION_RESULT
}

func (e *MissionError) Error() string {
	return fmt.Sprintf("mavlink: mission rejected: %s", e.Result)
}
