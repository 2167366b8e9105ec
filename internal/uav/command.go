package uav

import (
	"fmt"
	"strings"
)

// FlightCommand is a one-shot flight action
type FlightCommand int

const (
	TakeOff FlightCommand = iota
	Land
	ReturnToHome
)

func (c FlightCommand) String() string {
	switch c {
	case TakeOff:
		return "takeoff"
	case Land:
		return "land"
	case ReturnToHome:
		return "rth"
	default:
		return fmt.Sprintf("FlightCommand(%d)", int(c))
	}
}

// ParseFlightCommand parses the names returned by FlightCommand.String
func ParseFlightCommand(s string) (FlightCommand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "takeoff", "take-off":
		return TakeOff, nil
	case "land":
		return Land, nil
	case "rth", "rtl", "return":
		return ReturnToHome, nil
	default:
		return 0, fmt.Errorf("unknown flight command %q", s)
	}
}

// Event is a connection state change
type Event int

const (
	Connected Event = iota
	Disconnected
)

func (e Event) String() string {
	if e == Connected {
		return "connected"
	}
	return "disconnected"
}
