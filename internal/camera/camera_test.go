package camera

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpegA = []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	jpegB = []byte{0xFF, 0xD8, 0xBB, 0xFF, 0xD9}
)

func TestLatestFrame(t *testing.T) {
	var l latestFrame

	_, err := l.next()
	assert.ErrorIs(t, err, ErrNoFrame)

	l.set(types.Frame{Index: 1})
	l.set(types.Frame{Index: 2})
	f, err := l.next()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index, "older frames are dropped")

	_, err = l.next()
	assert.ErrorIs(t, err, ErrNoFrame, "a frame is handed out only once")

	l.set(types.Frame{Index: 3})
	l.finish(nil)
	f, err = l.next()
	require.NoError(t, err)
	assert.Equal(t, 3, f.Index, "last frame survives end of stream")

	_, err = l.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLatestFrame_FinishWithError(t *testing.T) {
	var l latestFrame
	boom := errors.New("boom")
	l.finish(boom)

	_, err := l.next()
	assert.ErrorIs(t, err, boom)
}

func TestMJPEGSource(t *testing.T) {
	r, w := io.Pipe()
	var seen []int
	src := newMJPEGSource(r, nil, nil, func(f types.Frame) { seen = append(seen, f.Index) })

	go func() {
		w.Write([]byte{0x00})
		w.Write(jpegA)
		w.Write(jpegB)
		w.Close()
	}()

	require.NoError(t, src.waitReady(context.Background(), time.Second))
	<-src.exited

	f, err := src.CurrentFrame()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)
	assert.Equal(t, jpegB, f.Data)
	assert.Equal(t, []int{1, 2}, seen, "OnFrame sees every decoded frame")

	_, err = src.CurrentFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close(), "Close is idempotent")
}

func TestMJPEGSource_ExitBeforeFirstFrame(t *testing.T) {
	r, w := io.Pipe()
	w.Close()
	src := newMJPEGSource(r, nil, nil, nil)

	err := src.waitReady(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestClassifyCaptureFailure(t *testing.T) {
	tests := []struct {
		logs string
		want error
	}{
		{"/dev/video0: Permission denied", ErrPermissionDenied},
		{"[avfoundation] Not authorized to capture video", ErrPermissionDenied},
		{"/dev/video9: No such file or directory", ErrNoDevice},
		{"", ErrNoDevice},
	}
	for _, tt := range tests {
		err := classifyCaptureFailure(tt.logs)
		assert.ErrorIs(t, err, ErrCameraUnavailable, tt.logs)
		assert.ErrorIs(t, err, tt.want, tt.logs)
	}
}

func TestCheckDeviceNode(t *testing.T) {
	err := checkDeviceNode("/dev/gazewatch-does-not-exist")
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	assert.ErrorIs(t, err, ErrNoDevice)

	assert.NoError(t, checkDeviceNode("0"), "non-path devices are left to ffmpeg")
}

func TestFileAcquire_Missing(t *testing.T) {
	f := &File{Path: filepath.Join(t.TempDir(), "missing.mp4")}
	_, err := f.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCameraUnavailable)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestFileAcquire_Directory(t *testing.T) {
	f := &File{Path: t.TempDir()}
	_, err := f.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestNew(t *testing.T) {
	cam, err := New(Options{Backend: "ffmpeg", Format: "v4l2", Device: "/dev/video0", FPS: 15})
	require.NoError(t, err)
	dev, ok := cam.(*Device)
	require.True(t, ok)
	assert.Equal(t, "v4l2", dev.Args.Format)
	assert.Equal(t, 15, dev.Args.FPS)

	_, err = New(Options{Backend: "nope"})
	assert.Error(t, err)
	assert.Contains(t, Backends(), "ffmpeg")
}
