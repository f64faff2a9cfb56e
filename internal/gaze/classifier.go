package gaze

import "errors"

var (
	// ErrInsufficientLandmarks means the set is shorter than MinLandmarks.
	ErrInsufficientLandmarks = errors.New("insufficient landmarks")
	// ErrMissingRequiredLandmark means one of the named points is nil.
	ErrMissingRequiredLandmark = errors.New("missing required landmark")
)

// LookingDownRatio is the pupil position (0 = upper lid, 1 = lower lid)
// both eyes must exceed before the head tilt is considered.
const LookingDownRatio = 0.75

// Measurement holds the intermediate values Classify decides on.
type Measurement struct {
	LeftRatio      float64
	RightRatio     float64
	HeadTiltedDown bool
}

// LookingDown applies the threshold rule. A NaN ratio (eye bounds at the
// same height) fails the comparison, so such frames read as LookingAtScreen.
func (m Measurement) LookingDown() bool {
	return m.LeftRatio > LookingDownRatio && m.RightRatio > LookingDownRatio && m.HeadTiltedDown
}

// Measure validates the set and computes the eye ratios and head tilt.
func Measure(set LandmarkSet) (Measurement, error) {
	if err := set.Validate(); err != nil {
		return Measurement{}, err
	}

	return Measurement{
		LeftRatio:      eyeRatio(set[LeftPupil], set[LeftEyeUpper], set[LeftEyeLower]),
		RightRatio:     eyeRatio(set[RightPupil], set[RightEyeUpper], set[RightEyeLower]),
		HeadTiltedDown: set[Chin].Y > set[NoseTip].Y,
	}, nil
}

// Classify returns LookingDown or LookingAtScreen for a valid set, or a
// validation error wrapping ErrInsufficientLandmarks or ErrMissingRequiredLandmark.
func Classify(set LandmarkSet) (Label, error) {
	m, err := Measure(set)
	if err != nil {
		return Invalid, err
	}
	if m.LookingDown() {
		return LookingDown, nil
	}
	return LookingAtScreen, nil
}

// eyeRatio is the vertical pupil position within the eye opening.
// Division by zero is left to IEEE semantics.
func eyeRatio(pupil, upper, lower *Landmark) float64 {
	return (pupil.Y - upper.Y) / (lower.Y - upper.Y)
}
