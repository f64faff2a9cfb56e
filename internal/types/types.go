package types

import (
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
)

// Frame is a single JPEG image captured from a camera source
type Frame struct {
	Index      int
	Data       []byte
	CapturedAt time.Time
}

// DetectionResult is what the landmark detector returns for one frame.
// An empty Faces slice means no face was found.
type DetectionResult struct {
	FrameIndex int
	Faces      []gaze.LandmarkSet
	Err        error
}

// DetectorConfig mirrors the Face Mesh options passed to the Python worker
type DetectorConfig struct {
	MaxFaces               int     `yaml:"max_faces" validate:"min=1"`
	MinDetectionConfidence float64 `yaml:"min_detection_confidence" validate:"gte=0,lte=1"`
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence" validate:"gte=0,lte=1"`
}

// DefaultDetectorConfig returns the settings the classifier was tuned with.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxFaces:               1,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}
