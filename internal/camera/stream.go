package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/utils"
)

const megabyte = 1024 * 1024

// latestFrame holds the newest frame and remembers which one was last handed out.
type latestFrame struct {
	mu     sync.Mutex
	frame  types.Frame
	served int
	done   bool
	err    error
}

func (l *latestFrame) set(f types.Frame) {
	l.mu.Lock()
	l.frame = f
	l.mu.Unlock()
}

// finish marks the stream as ended. err is nil for a clean end of input.
func (l *latestFrame) finish(err error) {
	l.mu.Lock()
	l.done = true
	l.err = err
	l.mu.Unlock()
}

// next returns the newest frame once. A frame captured before the stream
// ended is still delivered before io.EOF.
func (l *latestFrame) next() (types.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.frame.Index > l.served {
		l.served = l.frame.Index
		return l.frame, nil
	}
	if l.done {
		if l.err != nil {
			return types.Frame{}, l.err
		}
		return types.Frame{}, io.EOF
	}
	return types.Frame{}, ErrNoFrame
}

// mjpegSource reads an MJPEG byte stream and keeps only the newest frame.
type mjpegSource struct {
	cmd     *utils.SafeCommand // nil when reading a plain stream
	out     io.ReadCloser
	cancel  context.CancelFunc
	onFrame func(types.Frame)

	latest latestFrame

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	closeOnce sync.Once
}

func newMJPEGSource(out io.ReadCloser, cmd *utils.SafeCommand, cancel context.CancelFunc, onFrame func(types.Frame)) *mjpegSource {
	s := &mjpegSource{
		cmd:     cmd,
		out:     out,
		cancel:  cancel,
		onFrame: onFrame,
		ready:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// startFFmpeg launches cmd and starts splitting its stdout into frames.
func startFFmpeg(cmd *utils.SafeCommand, cancel context.CancelFunc, onFrame func(types.Frame)) (*mjpegSource, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return newMJPEGSource(out, cmd, cancel, onFrame), nil
}

func (s *mjpegSource) readLoop() {
	defer close(s.exited)

	scanner := bufio.NewScanner(s.out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	idx := 0
	for scanner.Scan() {
		idx++
		// Scanner reuses its buffer; the frame outlives this iteration.
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		f := types.Frame{Index: idx, Data: data, CapturedAt: time.Now()}

		s.latest.set(f)
		s.readyOnce.Do(func() { close(s.ready) })

		if s.onFrame != nil {
			s.onFrame(f)
		}
	}

	err := scanner.Err()
	if s.cmd != nil {
		// Wait must come after all reads from the stdout pipe.
		if waitErr := s.cmd.Wait(); err == nil && waitErr != nil {
			err = fmt.Errorf("ffmpeg exited: %w", waitErr)
		}
	}

	s.latest.finish(err)
}

// waitReady blocks until the first frame arrives, the process exits, or the timeout passes.
func (s *mjpegSource) waitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-s.exited:
		return s.startupError()
	case <-timer.C:
		return unavailable(ErrNoDevice, fmt.Sprintf("no frame within %s", timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startupError maps ffmpeg's complaint about the input to the camera taxonomy.
func (s *mjpegSource) startupError() error {
	var logs string
	if s.cmd != nil {
		logs = strings.TrimSpace(s.cmd.Stderr.String())
	}
	return classifyCaptureFailure(logs)
}

func classifyCaptureFailure(logs string) error {
	lower := strings.ToLower(logs)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not authorized"):
		return unavailable(ErrPermissionDenied, logs)
	default:
		return unavailable(ErrNoDevice, logs)
	}
}

func (s *mjpegSource) CurrentFrame() (types.Frame, error) {
	return s.latest.next()
}

// Close kills the capture process and waits for the reader to drain.
func (s *mjpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.out.Close()
		<-s.exited
	})
	return nil
}
