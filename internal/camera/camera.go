// Package camera abstracts video input devices: enumeration, default
// selection, and frame stream acquisition. The actual capture backend is
// hidden behind the Provider interface so the scanner core never touches
// platform APIs directly.
package camera

import (
	"context"
	"errors"
	"image"
	"time"
)

// Sentinel errors surfaced by providers and the enumerator.
var (
	// ErrPermissionDenied means camera access was refused. Callers must not
	// retry automatically.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoCamera means enumeration found no video input device.
	ErrNoCamera = errors.New("no camera available")
	// ErrCameraBusy means the device exists but is held by another consumer.
	ErrCameraBusy = errors.New("camera busy")
	// ErrUnknownDevice means the requested device id was not enumerated.
	ErrUnknownDevice = errors.New("unknown camera device")
)

// Device describes one enumerated video input. Identity is the ID; Label is
// human-readable and may be empty until permission has been exercised once.
type Device struct {
	ID    string
	Label string
}

// Frame is one captured video frame.
type Frame struct {
	Image image.Image
	Seq   uint64
	At    time.Time
}

// StreamConfig shapes an opened stream.
type StreamConfig struct {
	Width  int
	Height int
	FPS    int
}

// Stream is one live camera acquisition. The handle is owned by exactly one
// consumer; Close releases the underlying device.
type Stream interface {
	// Frames delivers captured frames. The channel is closed when the
	// stream ends or is closed.
	Frames() <-chan Frame
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Provider is the platform capture layer.
type Provider interface {
	// Devices lists the available video inputs.
	Devices(ctx context.Context) ([]Device, error)
	// Open acquires a device and starts delivering frames.
	Open(ctx context.Context, deviceID string, cfg StreamConfig) (Stream, error)
}
