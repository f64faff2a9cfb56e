// Package camera acquires video frames for the gaze processor.
//
// A Camera is acquired once per run. The returned Source is owned by the
// caller and must be closed; closing it stops the capture process.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/andresmejia3/gazewatch/internal/types"
)

var (
	// ErrCameraUnavailable wraps every acquisition failure.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrPermissionDenied means the OS refused access to the device.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoDevice means the device (or input file) does not exist or cannot be opened.
	ErrNoDevice = errors.New("no capture device")
	// ErrNoFrame means no frame has arrived since the last CurrentFrame call.
	ErrNoFrame = errors.New("no new frame")
)

// Camera opens a frame source.
type Camera interface {
	Acquire(ctx context.Context) (Source, error)
}

// Source yields the most recent captured frame. CurrentFrame returns
// ErrNoFrame when nothing new has been captured and io.EOF once a finite
// source is exhausted.
type Source interface {
	CurrentFrame() (types.Frame, error)
	Close() error
}

// unavailable builds the error returned by Acquire implementations.
func unavailable(reason error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrCameraUnavailable, reason)
	}
	return fmt.Errorf("%w: %w: %s", ErrCameraUnavailable, reason, detail)
}

// Options are the knobs shared by every capture backend.
type Options struct {
	Backend string
	Format  string
	Device  string
	FPS     int
	Width   int
	Height  int
}

// Factory builds a Camera for a backend.
type Factory func(Options) (Camera, error)

var backends = map[string]Factory{
	"ffmpeg": func(o Options) (Camera, error) {
		return NewDevice(o), nil
	},
}

// New returns the camera for o.Backend.
func New(o Options) (Camera, error) {
	f, ok := backends[o.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown camera backend %q (available: %v)", o.Backend, Backends())
	}
	return f(o)
}

// Backends lists the compiled-in backends.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
