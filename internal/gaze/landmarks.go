// Package gaze turns one frame of Face Mesh landmarks into a gaze label.
package gaze

import "fmt"

// Face Mesh landmark indices used by the classifier.
// See: https://github.com/google-ai-edge/mediapipe/blob/master/mediapipe/modules/face_geometry/data/canonical_face_model_uv_visualization.png
const (
	NoseTip       = 1
	LeftEyeLower  = 145
	Chin          = 152
	LeftEyeUpper  = 159
	RightEyeLower = 374
	RightEyeUpper = 386
	LeftPupil     = 468 // first iris point, only present with refined landmarks
	RightPupil    = 473

	// MinLandmarks is the smallest set that still contains both pupils.
	MinLandmarks = 474
)

// Landmark is a normalized image-space point (origin top-left, y grows downward).
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LandmarkSet is one face's landmarks. The slice index is the landmark ID;
// a nil entry means the model did not produce that point.
type LandmarkSet []*Landmark

// requiredLandmark pairs a named index with a readable name for error messages.
type requiredLandmark struct {
	Index int
	Name  string
}

// requiredLandmarks is checked in this order during validation.
var requiredLandmarks = []requiredLandmark{
	{NoseTip, "nose tip"},
	{LeftEyeUpper, "left eye upper"},
	{LeftEyeLower, "left eye lower"},
	{RightEyeUpper, "right eye upper"},
	{RightEyeLower, "right eye lower"},
	{LeftPupil, "left pupil"},
	{RightPupil, "right pupil"},
	{Chin, "chin"},
}

// Validate reports whether the set can be classified.
func (s LandmarkSet) Validate() error {
	if len(s) < MinLandmarks {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientLandmarks, len(s), MinLandmarks)
	}
	for _, r := range requiredLandmarks {
		if s[r.Index] == nil {
			return fmt.Errorf("%w: %s (index %d)", ErrMissingRequiredLandmark, r.Name, r.Index)
		}
	}
	return nil
}
