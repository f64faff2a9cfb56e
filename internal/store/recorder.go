package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/google/uuid"
)

// EventWriter persists one event. *Store implements it.
type EventWriter interface {
	InsertEvent(ctx context.Context, e Event) error
}

const (
	recorderBuffer       = 64
	recorderWriteTimeout = 5 * time.Second
)

// Recorder is an observer that writes label transitions to the database.
// OnGazeLabel never blocks: when the write queue is full the update is
// dropped and the next one with the same label is tried again.
type Recorder struct {
	w         EventWriter
	sessionID uuid.UUID

	queue chan Event
	done  chan struct{}

	mu       sync.Mutex
	last     gaze.Label
	recorded bool
	closed   bool

	written, dropped, failed atomic.Int64
}

// NewRecorder starts the background writer for sessionID.
func NewRecorder(w EventWriter, sessionID uuid.UUID) *Recorder {
	r := &Recorder{
		w:         w,
		sessionID: sessionID,
		queue:     make(chan Event, recorderBuffer),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) OnGazeLabel(u observer.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || (r.recorded && r.last == u.Label) {
		return
	}

	e := Event{
		SessionID:  r.sessionID,
		Label:      u.Label,
		Reason:     u.Reason(),
		FrameIndex: u.FrameIndex,
		ObservedAt: u.At,
	}
	if e.ObservedAt.IsZero() {
		e.ObservedAt = time.Now()
	}

	select {
	case r.queue <- e:
		r.last, r.recorded = u.Label, true
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
		err := r.w.InsertEvent(ctx, e)
		cancel()
		if err != nil {
			r.failed.Add(1)
			log.Error(log.Fields{"session": r.sessionID.String(), "label": e.Label.Key(), "error": err.Error()}, "[Recorder.run] failed to save event")
			continue
		}
		r.written.Add(1)
	}
}

// Close stops accepting updates and waits for queued writes, or for ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts reports written, dropped and failed events.
func (r *Recorder) Counts() (written, dropped, failed int64) {
	return r.written.Load(), r.dropped.Load(), r.failed.Load()
}
