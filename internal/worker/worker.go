package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/utils"
)

// ErrFrameRejected is returned when the Python side reports a per-frame error
// (undecodable image, model exception). The worker is still usable.
var ErrFrameRejected = errors.New("python worker error")

// Config controls how the Face Mesh worker process is launched.
type Config struct {
	Python      string
	Script      string
	Detector    types.DetectorConfig
	ReadTimeout time.Duration
}

// LandmarkWorker is a long-running Python process running MediaPipe Face Mesh.
type LandmarkWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewLandmarkWorker starts the Python worker and wires the FD 3 result pipe.
func NewLandmarkWorker(ctx context.Context, id int, cfg Config) (*LandmarkWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script,
		"--max-faces", strconv.Itoa(cfg.Detector.MaxFaces),
		"--min-detection-confidence", strconv.FormatFloat(cfg.Detector.MinDetectionConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(cfg.Detector.MinTrackingConfidence, 'f', -1, 64),
	)

	// Create a side-channel pipe (FD 3) so stray prints on stdout can't corrupt results
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &LandmarkWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// ProcessFrame sends one JPEG and blocks until the landmarks come back.
func (w *LandmarkWorker) ProcessFrame(data []byte) ([]gaze.LandmarkSet, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}
	return decodeResponse(respBody)
}

// Close shuts the pipes and waits for the process to exit.
func (w *LandmarkWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// FrameProcessor is the blocking half of the detector. LandmarkWorker implements it.
type FrameProcessor interface {
	ProcessFrame(data []byte) ([]gaze.LandmarkSet, error)
}

// Async turns a blocking FrameProcessor into a Submit call that returns a
// one-shot result channel.
type Async struct {
	proc FrameProcessor
}

// NewAsync wraps w. Callers must not Submit again until the previous result
// has been received; the worker pipe carries one request at a time.
func NewAsync(w FrameProcessor) *Async {
	return &Async{proc: w}
}

// Submit starts detection for frame. The returned channel is buffered so the
// result is never blocked on a reader that has gone away.
func (a *Async) Submit(ctx context.Context, frame types.Frame) <-chan types.DetectionResult {
	out := make(chan types.DetectionResult, 1)
	if err := ctx.Err(); err != nil {
		out <- types.DetectionResult{FrameIndex: frame.Index, Err: err}
		return out
	}
	go func() {
		faces, err := a.proc.ProcessFrame(frame.Data)
		out <- types.DetectionResult{FrameIndex: frame.Index, Faces: faces, Err: err}
	}()
	return out
}
