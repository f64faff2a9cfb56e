package gaze

import "fmt"

// Label is the gaze state published for a frame.
type Label int

const (
	LookingAtScreen Label = iota
	LookingDown
	NoFaceDetected
	Invalid
)

func (l Label) String() string {
	switch l {
	case LookingAtScreen:
		return "Looking at the screen"
	case LookingDown:
		return "Looking down"
	case NoFaceDetected:
		return "No faces detected"
	case Invalid:
		return "Invalid landmarks"
	default:
		return "Unknown"
	}
}

var labelKeys = map[Label]string{
	LookingAtScreen: "looking_at_screen",
	LookingDown:     "looking_down",
	NoFaceDetected:  "no_face",
	Invalid:         "invalid",
}

// Key is the stable identifier used in storage and JSON.
func (l Label) Key() string {
	if k, ok := labelKeys[l]; ok {
		return k
	}
	return "unknown"
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Label, error) {
	for l, k := range labelKeys {
		if k == key {
			return l, nil
		}
	}
	return Invalid, fmt.Errorf("unknown gaze label %q", key)
}

// MarshalText encodes the label as its Key.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.Key()), nil
}

// UnmarshalText decodes a Key.
func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
