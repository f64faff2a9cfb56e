package worker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/andresmejia3/gazewatch/internal/gaze"
)

const (
	statusOK    = 0
	statusError = 1

	maxResponseSize = 16 * 1024 * 1024
	// Face Mesh with refined landmarks produces 478 points.
	maxPointsPerFace = 1024
	maxFaces         = 16
)

// decodeResponse parses a worker response body.
//
//	OK:    [0] [NumFaces uint32] { [NumPoints uint32] { [x f32] [y f32] [z f32] } }
//	Error: [1] [MsgLen uint32] [Msg]
//
// A NaN x coordinate marks a landmark the model did not produce.
func decodeResponse(body []byte) ([]gaze.LandmarkSet, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	r := bytes.NewReader(body[1:])

	switch body[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("read error length: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("error message truncated: want %d bytes, have %d", msgLen, r.Len())
		}
		msg := make([]byte, msgLen)
		r.Read(msg)
		return nil, fmt.Errorf("%w: %s", ErrFrameRejected, msg)
	default:
		return nil, fmt.Errorf("unknown status byte %d", body[0])
	}

	var numFaces uint32
	if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("read face count: %w", err)
	}
	if numFaces > maxFaces {
		return nil, fmt.Errorf("face count %d exceeds limit %d", numFaces, maxFaces)
	}

	faces := make([]gaze.LandmarkSet, 0, numFaces)
	for f := uint32(0); f < numFaces; f++ {
		var numPoints uint32
		if err := binary.Read(r, binary.BigEndian, &numPoints); err != nil {
			return nil, fmt.Errorf("face %d: read point count: %w", f, err)
		}
		if numPoints > maxPointsPerFace {
			return nil, fmt.Errorf("face %d: point count %d exceeds limit %d", f, numPoints, maxPointsPerFace)
		}

		raw := make([][3]float32, numPoints)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: read points: %w", f, err)
		}

		set := make(gaze.LandmarkSet, numPoints)
		for i, p := range raw {
			if math.IsNaN(float64(p[0])) {
				continue
			}
			set[i] = &gaze.Landmark{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
		}
		faces = append(faces, set)
	}

	return faces, nil
}
