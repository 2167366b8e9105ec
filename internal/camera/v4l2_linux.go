//go:build linux

package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

const captureBuffers = 4

// V4L2 captures MJPEG frames from Video4Linux devices
type V4L2 struct {
	logger *slog.Logger
}

func NewBackend(logger *slog.Logger) *V4L2 {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &V4L2{logger: logger}
}

// Devices returns the capture capable devices. Metadata and output nodes are
// skipped.
func (b *V4L2) Devices() ([]Device, error) {
	paths, err := device.GetAllDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("listing video devices: %w", err)
	}

	devices := make([]Device, 0, len(paths))
	for _, path := range paths {
		dev, err := device.Open(path)
		if err != nil {
			b.logger.Debug("skipping video device", "path", path, "error", err)
			continue
		}
		caps := dev.Capability()
		_ = dev.Close()

		if !caps.IsVideoCaptureSupported() {
			continue
		}
		devices = append(devices, Device{
			Path:    path,
			Name:    caps.Card,
			Driver:  caps.Driver,
			BusInfo: caps.BusInfo,
		})
	}

	return devices, nil
}

func (b *V4L2) Open(ctx context.Context, d Device, f Format) (Capture, error) {
	dev, err := device.Open(d.Path,
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(f.Width),
			Height:      uint32(f.Height),
			Field:       v4l2.FieldNone,
		}),
		device.WithBufferSize(captureBuffers),
		device.WithFPS(uint32(f.FPS)),
	)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.Path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := dev.Start(ctx); err != nil {
		cancel()
		_ = dev.Close()
		return nil, fmt.Errorf("starting stream on %s: %w", d.Path, err)
	}

	return &v4l2Capture{dev: dev, cancel: cancel}, nil
}

type v4l2Capture struct {
	dev    *device.Device
	cancel context.CancelFunc
}

func (c *v4l2Capture) Frames() <-chan []byte {
	return c.dev.GetOutput()
}

func (c *v4l2Capture) Close() error {
	c.cancel()
	if err := c.dev.Stop(); err != nil {
		_ = c.dev.Close()
		return fmt.Errorf("stopping stream: %w", err)
	}
	return c.dev.Close()
}
