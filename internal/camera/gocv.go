//go:build gocv

package camera

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/gazewatch/internal/types"
	"gocv.io/x/gocv"
)

func init() {
	backends["gocv"] = func(o Options) (Camera, error) {
		return &GoCV{Device: o.Device, Width: o.Width, Height: o.Height}, nil
	}
}

// GoCV captures through OpenCV's VideoCapture. Built only with -tags gocv.
type GoCV struct {
	Device string // numeric index ("0") or a path/URL
	Width  int
	Height int
}

func (g *GoCV) Acquire(ctx context.Context) (Source, error) {
	var dev interface{} = g.Device
	if id, err := strconv.Atoi(g.Device); err == nil {
		dev = id
	}

	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, unavailable(ErrNoDevice, err.Error())
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, unavailable(ErrNoDevice, g.Device)
	}
	if g.Width > 0 && g.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(g.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(g.Height))
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &gocvSource{
		vc:     vc,
		cancel: cancel,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.readLoop(sctx)

	select {
	case <-s.ready:
		return s, nil
	case <-s.exited:
		s.Close()
		return nil, unavailable(ErrNoDevice, "capture returned no frames")
	case <-time.After(DefaultStartupTimeout):
		s.Close()
		return nil, unavailable(ErrNoDevice, "no frame within "+DefaultStartupTimeout.String())
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// gocvSource encodes each captured Mat to JPEG so frames look the same as ffmpeg's.
type gocvSource struct {
	vc     *gocv.VideoCapture
	cancel context.CancelFunc

	latest  latestFrame
	ready   chan struct{}
	readied bool
	exited  chan struct{}
	once    sync.Once
}

func (s *gocvSource) readLoop(ctx context.Context) {
	defer close(s.exited)

	mat := gocv.NewMat()
	defer mat.Close()

	idx := 0
	for ctx.Err() == nil {
		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			s.latest.finish(nil)
			return
		}
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
		if err != nil {
			s.latest.finish(err)
			return
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		idx++
		s.latest.set(types.Frame{Index: idx, Data: data, CapturedAt: time.Now()})
		if !s.readied {
			s.readied = true
			close(s.ready)
		}
	}
	s.latest.finish(nil)
}

func (s *gocvSource) CurrentFrame() (types.Frame, error) {
	return s.latest.next()
}

func (s *gocvSource) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.exited
		err = s.vc.Close()
	})
	return err
}
