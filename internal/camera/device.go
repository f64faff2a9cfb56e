package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/utils"
)

// DefaultStartupTimeout bounds how long Acquire waits for the first frame.
const DefaultStartupTimeout = 10 * time.Second

// Device captures a live camera through ffmpeg.
type Device struct {
	Args           utils.CaptureArgs
	StartupTimeout time.Duration
}

// NewDevice builds an ffmpeg-backed camera from o.
func NewDevice(o Options) *Device {
	return &Device{
		Args: utils.CaptureArgs{
			Format: o.Format,
			Device: o.Device,
			FPS:    o.FPS,
			Width:  o.Width,
			Height: o.Height,
		},
		StartupTimeout: DefaultStartupTimeout,
	}
}

// Acquire checks the device, starts ffmpeg and waits for the first frame.
func (d *Device) Acquire(ctx context.Context) (Source, error) {
	if err := checkDeviceNode(d.Args.Device); err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, unavailable(ErrNoDevice, "ffmpeg not found in PATH")
	}

	sctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCaptureCmd(sctx, d.Args)
	src, err := startFFmpeg(cmd, cancel, nil)
	if err != nil {
		cancel()
		return nil, unavailable(ErrNoDevice, err.Error())
	}

	timeout := d.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	if err := src.waitReady(ctx, timeout); err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

// checkDeviceNode gives a precise error for device files before ffmpeg
// reports a generic I/O failure. Non-path devices (avfoundation indexes,
// dshow names) are left to ffmpeg.
func checkDeviceNode(device string) error {
	if !strings.HasPrefix(device, "/dev/") {
		return nil
	}
	f, err := os.Open(device)
	switch {
	case err == nil:
		return f.Close()
	case os.IsNotExist(err):
		return unavailable(ErrNoDevice, device)
	case os.IsPermission(err):
		return unavailable(ErrPermissionDenied, fmt.Sprintf("%s (is the user in the video group?)", device))
	default:
		return unavailable(ErrNoDevice, err.Error())
	}
}

// File replays a recorded video at its native frame rate.
type File struct {
	Path string
	// OnFrame is called for every decoded frame, including ones the processor skips.
	OnFrame func(types.Frame)
}

// Acquire starts decoding. A missing file is reported as ErrNoDevice.
func (f *File) Acquire(ctx context.Context) (Source, error) {
	info, err := os.Stat(f.Path)
	switch {
	case os.IsNotExist(err):
		return nil, unavailable(ErrNoDevice, f.Path)
	case os.IsPermission(err):
		return nil, unavailable(ErrPermissionDenied, f.Path)
	case err != nil:
		return nil, unavailable(ErrNoDevice, err.Error())
	case info.IsDir():
		return nil, unavailable(ErrNoDevice, f.Path+" is a directory")
	}

	sctx, cancel := context.WithCancel(ctx)
	src, err := startFFmpeg(utils.NewFFmpegReplayCmd(sctx, f.Path), cancel, f.OnFrame)
	if err != nil {
		cancel()
		return nil, unavailable(ErrNoDevice, err.Error())
	}
	return src, nil
}
