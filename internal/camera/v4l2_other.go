//go:build !linux

package camera

import (
	"context"
	"log/slog"
)

// V4L2 is unavailable outside Linux; every call fails with ErrUnsupported
type V4L2 struct{}

func NewBackend(*slog.Logger) *V4L2 {
	return &V4L2{}
}

func (*V4L2) Devices() ([]Device, error) {
	return nil, ErrUnsupported
}

func (*V4L2) Open(context.Context, Device, Format) (Capture, error) {
	return nil, ErrUnsupported
}
