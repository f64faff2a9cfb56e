package store

import (
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
)

// Summary is how long a session spent in each label.
type Summary struct {
	Durations   map[gaze.Label]time.Duration
	Transitions int
	Total       time.Duration
}

// Share returns the fraction of Total spent in l.
func (s Summary) Share(l gaze.Label) float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Durations[l]) / float64(s.Total)
}

// Summarize attributes the time between consecutive events to the earlier
// event's label. The last label lasts until end. Events must be sorted by
// ObservedAt; an end before the last event contributes nothing for it.
func Summarize(events []Event, end time.Time) Summary {
	sum := Summary{Durations: make(map[gaze.Label]time.Duration), Transitions: len(events)}

	for i, e := range events {
		until := end
		if i+1 < len(events) {
			until = events[i+1].ObservedAt
		}
		if d := until.Sub(e.ObservedAt); d > 0 {
			sum.Durations[e.Label] += d
			sum.Total += d
		}
	}
	return sum
}
