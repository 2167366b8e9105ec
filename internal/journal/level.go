package journal

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	LevelInfo Level = iota
	LevelDebug
	LevelError
	LevelWarning
)

// Level tags every journal line. The order matches the log file format used
// by earlier station releases and must not be changed.
type Level int

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Color returns the status panel colour for the level.
func (l Level) Color() string {
	switch l {
	case LevelDebug:
		return "#ff7f50"
	case LevelInfo:
		return "#7bed9f"
	case LevelWarning:
		return "#1e90ff"
	case LevelError:
		return "#ff4757"
	default:
		return "black"
	}
}

// Slog converts the level to its log/slog counterpart.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromSlog maps a slog level onto the closest journal level.
func FromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarning
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// ParseLevel parses level names as written in config files ("info", "warn", ...).
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO", "":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	default:
		return LevelInfo, fmt.Errorf("journal: unknown level %q", s)
	}
}
