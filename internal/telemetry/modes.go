package telemetry

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// FlightMode is the autopilot flight mode, independent of the autopilot stack
type FlightMode int

const (
	FlightModeUnknown FlightMode = iota
	FlightModeReady
	FlightModeTakeoff
	FlightModeHold
	FlightModeMission
	FlightModeReturnToLaunch
	FlightModeLand
	FlightModeOffboard
	FlightModeFollowMe
	FlightModeManual
	FlightModeAltctl
	FlightModePosctl
	FlightModeAcro
	FlightModeStabilized
	FlightModeRattitude
)

func (m FlightMode) String() string {
	switch m {
	case FlightModeUnknown:
		return "Unknown"
	case FlightModeReady:
		return "Ready"
	case FlightModeTakeoff:
		return "Takeoff"
	case FlightModeHold:
		return "Hold"
	case FlightModeMission:
		return "Mission"
	case FlightModeReturnToLaunch:
		return "Return to Launch"
	case FlightModeLand:
		return "Land"
	case FlightModeOffboard:
		return "Offboard"
	case FlightModeFollowMe:
		return "Follow Me"
	case FlightModeManual:
		return "Manual"
	case FlightModeAltctl:
		return "Altitude Control"
	case FlightModePosctl:
		return "Position Control"
	case FlightModeAcro:
		return "Acro"
	case FlightModeStabilized:
		return "Stabilized"
	case FlightModeRattitude:
		return "Rattitude"
	default:
		return "Unknown Flight Mode"
	}
}

func (m FlightMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// FixType is the GPS fix quality
type FixType int

const (
	FixTypeNoGps FixType = iota
	FixTypeNoFix
	FixType2D
	FixType3D
	FixTypeDgps
	FixTypeRtkFloat
	FixTypeRtkFixed
	FixTypeUnknown
)

func (f FixType) String() string {
	switch f {
	case FixTypeNoGps:
		return "NoGps"
	case FixTypeNoFix:
		return "NoFix"
	case FixType2D:
		return "Fix2D"
	case FixType3D:
		return "Fix3D"
	case FixTypeDgps:
		return "FixDgps"
	case FixTypeRtkFloat:
		return "RtkFloat"
	case FixTypeRtkFixed:
		return "RtkFixed"
	default:
		return "Unknown"
	}
}

func (f FixType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func fixTypeFromMAVLink(t common.GPS_FIX_TYPE) FixType {
	switch t {
	case common.GPS_FIX_TYPE_NO_GPS:
		return FixTypeNoGps
	case common.GPS_FIX_TYPE_NO_FIX:
		return FixTypeNoFix
	case common.GPS_FIX_TYPE_2D_FIX:
		return FixType2D
	case common.GPS_FIX_TYPE_3D_FIX:
		return FixType3D
	case common.GPS_FIX_TYPE_DGPS:
		return FixTypeDgps
	case common.GPS_FIX_TYPE_RTK_FLOAT:
		return FixTypeRtkFloat
	case common.GPS_FIX_TYPE_RTK_FIXED:
		return FixTypeRtkFixed
	default:
		return FixTypeUnknown
	}
}

// PX4 custom mode layout: main mode in bits 16..23, sub mode in bits 24..31
const (
	px4MainManual     = 1
	px4MainAltctl     = 2
	px4MainPosctl     = 3
	px4MainAuto       = 4
	px4MainAcro       = 5
	px4MainOffboard   = 6
	px4MainStabilized = 7
	px4MainRattitude  = 8

	px4AutoReady    = 1
	px4AutoTakeoff  = 2
	px4AutoLoiter   = 3
	px4AutoMission  = 4
	px4AutoRTL      = 5
	px4AutoLand     = 6
	px4AutoFollowMe = 8
)

// DecodeFlightMode maps a HEARTBEAT's mode fields onto a FlightMode
func DecodeFlightMode(autopilot common.MAV_AUTOPILOT, baseMode common.MAV_MODE_FLAG, customMode uint32) FlightMode {
	if baseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED == 0 {
		return FlightModeUnknown
	}

	switch autopilot {
	case common.MAV_AUTOPILOT_PX4:
		return decodePX4(customMode)
	case common.MAV_AUTOPILOT_ARDUPILOTMEGA:
		return decodeArduCopter(customMode)
	default:
		return FlightModeUnknown
	}
}

func decodePX4(customMode uint32) FlightMode {
	main := (customMode >> 16) & 0xff
	sub := (customMode >> 24) & 0xff

	switch main {
	case px4MainManual:
		return FlightModeManual
	case px4MainAltctl:
		return FlightModeAltctl
	case px4MainPosctl:
		return FlightModePosctl
	case px4MainAcro:
		return FlightModeAcro
	case px4MainOffboard:
		return FlightModeOffboard
	case px4MainStabilized:
		return FlightModeStabilized
	case px4MainRattitude:
		return FlightModeRattitude
	case px4MainAuto:
		switch sub {
		case px4AutoReady:
			return FlightModeReady
		case px4AutoTakeoff:
			return FlightModeTakeoff
		case px4AutoLoiter:
			return FlightModeHold
		case px4AutoMission:
			return FlightModeMission
		case px4AutoRTL:
			return FlightModeReturnToLaunch
		case px4AutoLand:
			return FlightModeLand
		case px4AutoFollowMe:
			return FlightModeFollowMe
		}
	}

	return FlightModeUnknown
}

// ArduCopter custom modes: STABILIZE, ACRO, ALT_HOLD, AUTO, GUIDED, LOITER, RTL,
// LAND, POSHOLD and BRAKE
var arduCopterModes = map[uint32]FlightMode{
	0:  FlightModeStabilized,
	1:  FlightModeAcro,
	2:  FlightModeAltctl,
	3:  FlightModeMission,
	4:  FlightModeOffboard,
	5:  FlightModeHold,
	6:  FlightModeReturnToLaunch,
	9:  FlightModeLand,
	16: FlightModePosctl,
	17: FlightModeHold,
}

func decodeArduCopter(customMode uint32) FlightMode {
	if mode, ok := arduCopterModes[customMode]; ok {
		return mode
	}
	return FlightModeUnknown
}
