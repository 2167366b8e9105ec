package camera

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCameraNotFound = errors.New("camera: not found")
	ErrNoCamera       = errors.New("camera: no camera selected")
	ErrUnsupported    = errors.New("camera: capture is not supported on this platform")
)

// Device is a video capture device
type Device struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Driver  string `json:"driver,omitempty"`
	BusInfo string `json:"busInfo,omitempty"`
}

// Format is the requested capture format. Frames are always MJPEG.
type Format struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	FPS    int `json:"fps" yaml:"fps"`
}

var DefaultFormat = Format{Width: 640, Height: 480, FPS: 30}

// Backend enumerates and opens capture devices
type Backend interface {
	Devices() ([]Device, error)
	Open(ctx context.Context, d Device, f Format) (Capture, error)
}

// Capture is a running capture. Frames is closed when the stream ends.
type Capture interface {
	Frames() <-chan []byte
	Close() error
}

// Sink displays JPEG frames. *mjpeg.Stream satisfies it.
type Sink interface {
	UpdateJPEG(jpeg []byte)
}

// FrameHook transforms a JPEG frame before it reaches the sink
type FrameHook func(frame []byte) []byte

type EventType int

const (
	Started EventType = iota
	Stopped
)

func (t EventType) String() string {
	switch t {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

type Event struct {
	Type   EventType
	Camera string
}

// describe returns the selectable names of devices. Devices sharing a card
// name are told apart by their path.
func describe(devices []Device) []string {
	counts := make(map[string]int, len(devices))
	for _, d := range devices {
		counts[d.Name]++
	}

	names := make([]string, len(devices))
	for i, d := range devices {
		switch {
		case d.Name == "":
			names[i] = d.Path
		case counts[d.Name] > 1:
			names[i] = fmt.Sprintf("%s (%s)", d.Name, d.Path)
		default:
			names[i] = d.Name
		}
	}
	return names
}
