// Package processor drives the gaze classifier from a live camera feed.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/worker"
)

// ErrAlreadyStarted is returned when Run is called on a processor that is not Idle.
var ErrAlreadyStarted = errors.New("processor already started")

// DefaultTickInterval is roughly one frame at 15 fps.
const DefaultTickInterval = 66 * time.Millisecond

// State is the processor lifecycle stage.
type State int32

const (
	Idle State = iota
	Initializing
	Running
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Detector submits a frame for landmark detection. The returned channel
// delivers exactly one result.
type Detector interface {
	Submit(ctx context.Context, frame types.Frame) <-chan types.DetectionResult
}

// Config tunes the processing loop.
type Config struct {
	TickInterval time.Duration
}

// Stats counts what happened to each tick. Read it with Processor.Stats.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Skipped   int64 `json:"skipped"` // tick fired while a detection was still in flight
	Completed int64 `json:"completed"`
	NoFace    int64 `json:"no_face"`
	Invalid   int64 `json:"invalid"`
	Rejected  int64 `json:"rejected"` // worker refused the frame
}

// Processor owns one camera and one detector for its whole lifetime.
type Processor struct {
	camera   camera.Camera
	detector Detector
	observer observer.Observer
	cfg      Config

	state atomic.Int32
	alive atomic.Bool

	submitted, skipped, completed, noFace, invalid, rejected atomic.Int64
}

// New builds a processor. Nothing is acquired until Run.
func New(cam camera.Camera, det Detector, obs observer.Observer, cfg Config) *Processor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Processor{
		camera:   cam,
		detector: det,
		observer: obs,
		cfg:      cfg,
	}
}

// State returns the current lifecycle stage.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// Stats returns a snapshot of the tick counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Skipped:   p.skipped.Load(),
		Completed: p.completed.Load(),
		NoFace:    p.noFace.Load(),
		Invalid:   p.invalid.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Run acquires the camera and processes frames until ctx is cancelled or a
// finite source runs out. Camera failures are returned without retry and
// leave the processor Failed. Per-frame problems never end the loop.
func (p *Processor) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(Idle), int32(Initializing)) {
		return ErrAlreadyStarted
	}

	src, err := p.camera.Acquire(ctx)
	if err != nil {
		p.setState(Failed)
		return fmt.Errorf("acquire camera: %w", err)
	}
	defer src.Close()

	p.alive.Store(true)
	defer p.alive.Store(false)
	p.setState(Running)
	log.Info(log.Fields{"tick": p.cfg.TickInterval.String()}, "[processor.Run] camera ready, processing frames")

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	// pending is non-nil while a detection is in flight.
	var pending <-chan types.DetectionResult

	for {
		select {
		case <-ctx.Done():
			p.setState(Stopped)
			return nil

		case <-ticker.C:
			if pending != nil {
				p.skipped.Add(1)
				continue
			}
			frame, err := src.CurrentFrame()
			switch {
			case errors.Is(err, camera.ErrNoFrame):
				continue
			case errors.Is(err, io.EOF):
				p.setState(Stopped)
				return nil
			case err != nil:
				p.setState(Failed)
				return fmt.Errorf("read frame: %w", err)
			}
			p.submitted.Add(1)
			pending = p.detector.Submit(ctx, frame)

		case res := <-pending:
			pending = nil
			if err := p.handle(res); err != nil {
				if ctx.Err() != nil {
					// The worker was torn down with the context; not a failure.
					p.setState(Stopped)
					return nil
				}
				p.setState(Failed)
				return err
			}
		}
	}
}

// handle classifies one detection result and publishes the label. It only
// returns an error when the detector itself is broken.
func (p *Processor) handle(res types.DetectionResult) error {
	if !p.alive.Load() {
		return nil
	}
	p.completed.Add(1)

	fields := log.Fields{"frame": res.FrameIndex}

	if res.Err != nil {
		if errors.Is(res.Err, worker.ErrFrameRejected) {
			p.rejected.Add(1)
			fields["error"] = res.Err.Error()
			log.Warn(fields, "[processor.handle] detector rejected frame")
			return nil
		}
		return fmt.Errorf("detector failed on frame %d: %w", res.FrameIndex, res.Err)
	}

	if len(res.Faces) == 0 {
		p.noFace.Add(1)
		log.Debug(fields, "[processor.handle] no faces detected")
		p.publish(observer.Update{Label: gaze.NoFaceDetected, FrameIndex: res.FrameIndex})
		return nil
	}

	label, err := gaze.Classify(res.Faces[0])
	if err != nil {
		p.invalid.Add(1)
		fields["error"] = err.Error()
		fields["landmarks"] = len(res.Faces[0])
		log.Warn(fields, "[processor.handle] invalid landmarks")
		p.publish(observer.Update{Label: gaze.Invalid, Err: err, FrameIndex: res.FrameIndex})
		return nil
	}

	if log.DebugEnabled() {
		m, _ := gaze.Measure(res.Faces[0])
		fields["left_ratio"] = m.LeftRatio
		fields["right_ratio"] = m.RightRatio
		fields["head_down"] = m.HeadTiltedDown
		log.Debug(fields, "[processor.handle] "+label.String())
	}

	p.publish(observer.Update{Label: label, FrameIndex: res.FrameIndex})
	return nil
}

func (p *Processor) publish(u observer.Update) {
	if p.observer == nil || !p.alive.Load() {
		return
	}
	u.At = time.Now()
	p.observer.OnGazeLabel(u)
}
