package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// okPayload builds a status-OK response with the given faces. A nil point is
// encoded with a NaN x coordinate.
func okPayload(faces ...[]*[3]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	nan := float32(math.NaN())
	for _, face := range faces {
		binary.Write(payload, binary.BigEndian, uint32(len(face)))
		for _, p := range face {
			if p == nil {
				binary.Write(payload, binary.BigEndian, [3]float32{nan, 0, 0})
				continue
			}
			binary.Write(payload, binary.BigEndian, *p)
		}
	}
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	pipe.Write(payload)
	return pipe
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	face := make([]*[3]float32, gaze.MinLandmarks)
	for i := range face {
		face[i] = &[3]float32{0.5, 0.5, 0}
	}
	face[gaze.LeftPupil] = &[3]float32{0.25, 0.75, -0.01}

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: framed(okPayload(face)),
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: 4 bytes header + data
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0]) != gaze.MinLandmarks {
		t.Fatalf("Expected %d landmarks, got %d", gaze.MinLandmarks, len(faces[0]))
	}
	pupil := faces[0][gaze.LeftPupil]
	if math.Abs(pupil.X-0.25) > 1e-6 || math.Abs(pupil.Y-0.75) > 1e-6 {
		t.Errorf("Expected pupil (0.25, 0.75), got (%f, %f)", pupil.X, pupil.Y)
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(okPayload()),
	}

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_AbsentPoint(t *testing.T) {
	face := []*[3]float32{{0.1, 0.2, 0.3}, nil, {0.4, 0.5, 0.6}}
	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(okPayload(face)),
	}

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if faces[0][0] == nil || faces[0][2] == nil {
		t.Fatal("Expected present points to decode")
	}
	if faces[0][1] != nil {
		t.Errorf("Expected NaN point to decode as absent, got %+v", faces[0][1])
	}
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: cannot decode image"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrFrameRejected) {
		t.Errorf("Expected ErrFrameRejected, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_WorkerDied(t *testing.T) {
	w := &LandmarkWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}, // EOF immediately
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error when the pipe is closed")
	}
	if errors.Is(err, ErrFrameRejected) {
		t.Error("A dead worker must not look like a per-frame rejection")
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"Empty", nil},
		{"Unknown status", []byte{7}},
		{"Truncated face count", []byte{statusOK, 0, 0}},
		{"Too many faces", append([]byte{statusOK}, 0, 0, 1, 0)},
		{"Truncated points", append([]byte{statusOK}, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0)},
		{"Truncated error message", append([]byte{statusError}, 0, 0, 0, 9, 'x')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeResponse(tt.body); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

type stubProcessor struct {
	faces []gaze.LandmarkSet
	err   error
	delay time.Duration
}

func (s stubProcessor) ProcessFrame([]byte) ([]gaze.LandmarkSet, error) {
	time.Sleep(s.delay)
	return s.faces, s.err
}

func TestAsyncSubmit(t *testing.T) {
	want := []gaze.LandmarkSet{make(gaze.LandmarkSet, 3)}
	a := NewAsync(stubProcessor{faces: want, delay: 5 * time.Millisecond})

	ch := a.Submit(context.Background(), types.Frame{Index: 42})
	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatalf("Unexpected error: %v", res.Err)
		}
		if res.FrameIndex != 42 {
			t.Errorf("Expected frame index 42, got %d", res.FrameIndex)
		}
		if len(res.Faces) != 1 {
			t.Errorf("Expected 1 face, got %d", len(res.Faces))
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for result")
	}
}

func TestAsyncSubmit_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAsync(stubProcessor{})
	res := <-a.Submit(ctx, types.Frame{Index: 1})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", res.Err)
	}
}

func TestAsyncSubmit_ResultNotRead(t *testing.T) {
	// Nobody reads the channel; the goroutine must still be able to finish.
	a := NewAsync(stubProcessor{})
	ch := a.Submit(context.Background(), types.Frame{})
	time.Sleep(10 * time.Millisecond)
	if len(ch) != 1 {
		t.Errorf("Expected result parked in buffered channel, got len %d", len(ch))
	}
}
