package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = time.Millisecond

// fakeSource hands out queued frames, then ErrNoFrame (live) or io.EOF (finite).
type fakeSource struct {
	mu     sync.Mutex
	frames []types.Frame
	finite bool
	closed atomic.Bool
}

func (s *fakeSource) CurrentFrame() (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if s.finite {
			return types.Frame{}, io.EOF
		}
		return types.Frame{}, camera.ErrNoFrame
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCamera struct {
	src *fakeSource
	err error
}

func (c *fakeCamera) Acquire(ctx context.Context) (camera.Source, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.src, nil
}

// funcDetector answers every frame synchronously through fn.
type funcDetector func(types.Frame) types.DetectionResult

func (d funcDetector) Submit(ctx context.Context, f types.Frame) <-chan types.DetectionResult {
	out := make(chan types.DetectionResult, 1)
	out <- d(f)
	return out
}

// gatedDetector holds results until release is closed.
type gatedDetector struct {
	release chan struct{}
	calls   atomic.Int32
	result  types.DetectionResult
}

func (d *gatedDetector) Submit(ctx context.Context, f types.Frame) <-chan types.DetectionResult {
	d.calls.Add(1)
	out := make(chan types.DetectionResult, 1)
	go func() {
		<-d.release
		res := d.result
		res.FrameIndex = f.Index
		out <- res
	}()
	return out
}

// collector records every update it sees.
type collector struct {
	mu      sync.Mutex
	updates []observer.Update
}

func (c *collector) OnGazeLabel(u observer.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) labels() []gaze.Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]gaze.Label, len(c.updates))
	for i, u := range c.updates {
		out[i] = u.Label
	}
	return out
}

func frames(n int) []types.Frame {
	out := make([]types.Frame, n)
	for i := range out {
		out[i] = types.Frame{Index: i + 1, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	}
	return out
}

// faceSet builds a full landmark set; chinY decides between the two labels
// when both pupils sit low in the eye (ratio 0.825).
func faceSet(chinY float64) gaze.LandmarkSet {
	set := make(gaze.LandmarkSet, 478)
	for i := range set {
		set[i] = &gaze.Landmark{X: 0.5, Y: 0.5}
	}
	set[gaze.LeftEyeUpper].Y, set[gaze.LeftEyeLower].Y, set[gaze.LeftPupil].Y = 0.40, 0.44, 0.433
	set[gaze.RightEyeUpper].Y, set[gaze.RightEyeLower].Y, set[gaze.RightPupil].Y = 0.40, 0.44, 0.433
	set[gaze.NoseTip].Y = 0.5
	set[gaze.Chin].Y = chinY
	return set
}

func TestRun_EmitsLabelsInOrder(t *testing.T) {
	src := &fakeSource{frames: frames(4), finite: true}
	results := map[int]types.DetectionResult{
		1: {Faces: []gaze.LandmarkSet{faceSet(0.6)}},
		2: {Faces: []gaze.LandmarkSet{faceSet(0.45)}},
		3: {Faces: nil},
		4: {Faces: []gaze.LandmarkSet{faceSet(0.6)[:100]}},
	}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		res := results[f.Index]
		res.FrameIndex = f.Index
		return res
	})
	obs := &collector{}

	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []gaze.Label{gaze.LookingDown, gaze.LookingAtScreen, gaze.NoFaceDetected, gaze.Invalid}, obs.labels())
	assert.ErrorIs(t, obs.updates[3].Err, gaze.ErrInsufficientLandmarks)
	assert.Equal(t, 4, obs.updates[3].FrameIndex)
	assert.False(t, obs.updates[0].At.IsZero(), "updates are timestamped")

	assert.Equal(t, Stopped, p.State())
	assert.True(t, src.closed.Load(), "camera must be released")

	st := p.Stats()
	assert.EqualValues(t, 4, st.Submitted)
	assert.EqualValues(t, 4, st.Completed)
	assert.EqualValues(t, 1, st.NoFace)
	assert.EqualValues(t, 1, st.Invalid)
}

func TestRun_NoFaceSkipsClassifier(t *testing.T) {
	// Scenario C: an empty face list is a label, not a validation failure.
	src := &fakeSource{frames: frames(1), finite: true}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		return types.DetectionResult{FrameIndex: f.Index, Faces: []gaze.LandmarkSet{}}
	})
	obs := &collector{}

	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, obs.updates, 1)
	assert.Equal(t, gaze.NoFaceDetected, obs.updates[0].Label)
	assert.NoError(t, obs.updates[0].Err)
	assert.EqualValues(t, 0, p.Stats().Invalid)
}

func TestRun_InvalidLandmarksDoNotStopLoop(t *testing.T) {
	missing := faceSet(0.6)
	missing[gaze.LeftPupil] = nil

	src := &fakeSource{frames: frames(3), finite: true}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		if f.Index == 3 {
			return types.DetectionResult{FrameIndex: f.Index, Faces: []gaze.LandmarkSet{faceSet(0.6)}}
		}
		return types.DetectionResult{FrameIndex: f.Index, Faces: []gaze.LandmarkSet{missing}}
	})
	obs := &collector{}

	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []gaze.Label{gaze.Invalid, gaze.Invalid, gaze.LookingDown}, obs.labels())
	assert.ErrorIs(t, obs.updates[0].Err, gaze.ErrMissingRequiredLandmark)
}

func TestRun_OnlyFirstFaceIsClassified(t *testing.T) {
	src := &fakeSource{frames: frames(1), finite: true}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		return types.DetectionResult{Faces: []gaze.LandmarkSet{faceSet(0.45), faceSet(0.6)}}
	})
	obs := &collector{}

	require.NoError(t, New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick}).Run(context.Background()))
	assert.Equal(t, []gaze.Label{gaze.LookingAtScreen}, obs.labels())
}

func TestRun_CameraUnavailable(t *testing.T) {
	camErr := fmt.Errorf("%w: %w", camera.ErrCameraUnavailable, camera.ErrPermissionDenied)
	obs := &collector{}
	p := New(&fakeCamera{err: camErr}, funcDetector(nil), obs, Config{TickInterval: tick})

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, camera.ErrCameraUnavailable)
	assert.ErrorIs(t, err, camera.ErrPermissionDenied)
	assert.Equal(t, Failed, p.State())
	assert.Empty(t, obs.labels())

	assert.ErrorIs(t, p.Run(context.Background()), ErrAlreadyStarted, "Failed is terminal")
}

func TestRun_SkipsTicksWhileDetectionInFlight(t *testing.T) {
	src := &fakeSource{frames: frames(50)}
	det := &gatedDetector{
		release: make(chan struct{}),
		result:  types.DetectionResult{Faces: []gaze.LandmarkSet{faceSet(0.6)}},
	}
	obs := &collector{}
	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().Skipped >= 5 }, time.Second, tick)
	assert.EqualValues(t, 1, det.calls.Load(), "no new submission while one is outstanding")
	assert.EqualValues(t, 1, p.Stats().Submitted)

	close(det.release)
	require.Eventually(t, func() bool { return len(obs.labels()) >= 2 }, time.Second, tick)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Stopped, p.State())
}

func TestRun_CancelDiscardsLateResult(t *testing.T) {
	src := &fakeSource{frames: frames(1)}
	det := &gatedDetector{
		release: make(chan struct{}),
		result:  types.DetectionResult{Faces: []gaze.LandmarkSet{faceSet(0.6)}},
	}
	obs := &collector{}
	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return det.calls.Load() == 1 }, time.Second, tick)
	cancel()
	require.NoError(t, <-done)

	assert.True(t, src.closed.Load(), "camera released on cancel")
	assert.Equal(t, Stopped, p.State())

	// The detector finishes after teardown; nothing may be published.
	close(det.release)
	time.Sleep(10 * tick)
	assert.Empty(t, obs.labels())
}

func TestRun_RejectedFrameContinues(t *testing.T) {
	src := &fakeSource{frames: frames(2), finite: true}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		if f.Index == 1 {
			return types.DetectionResult{FrameIndex: 1, Err: fmt.Errorf("%w: cannot decode image", worker.ErrFrameRejected)}
		}
		return types.DetectionResult{FrameIndex: 2, Faces: []gaze.LandmarkSet{faceSet(0.45)}}
	})
	obs := &collector{}

	p := New(&fakeCamera{src: src}, det, obs, Config{TickInterval: tick})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []gaze.Label{gaze.LookingAtScreen}, obs.labels())
	assert.EqualValues(t, 1, p.Stats().Rejected)
}

func TestRun_DetectorCrashFailsRun(t *testing.T) {
	src := &fakeSource{frames: frames(3), finite: true}
	det := funcDetector(func(f types.Frame) types.DetectionResult {
		return types.DetectionResult{FrameIndex: f.Index, Err: io.ErrUnexpectedEOF}
	})

	p := New(&fakeCamera{src: src}, det, &collector{}, Config{TickInterval: tick})
	err := p.Run(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, Failed, p.State())
	assert.True(t, src.closed.Load())
}

func TestRun_SourceError(t *testing.T) {
	boom := errors.New("ffmpeg exited")
	p := New(errSourceCamera{err: boom}, funcDetector(nil), nil, Config{TickInterval: tick})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, p.State())
}

type errSourceCamera struct{ err error }

func (c errSourceCamera) Acquire(context.Context) (camera.Source, error) {
	return errSource{err: c.err}, nil
}

type errSource struct{ err error }

func (s errSource) CurrentFrame() (types.Frame, error) { return types.Frame{}, s.err }
func (s errSource) Close() error                       { return nil }

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestNew_DefaultTick(t *testing.T) {
	p := New(nil, nil, nil, Config{})
	assert.Equal(t, DefaultTickInterval, p.cfg.TickInterval)
	assert.Equal(t, Idle, p.State())
}
