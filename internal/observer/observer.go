// Package observer delivers gaze labels to whoever displays or stores them.
// Observers are called from the processor loop and must return quickly.
package observer

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
)

// Update is one published label. Err is set when Label is gaze.Invalid.
type Update struct {
	Label      gaze.Label
	Err        error
	FrameIndex int
	At         time.Time
}

// Reason returns the validation failure text, or "" for a normal label.
func (u Update) Reason() string {
	if u.Err == nil {
		return ""
	}
	return u.Err.Error()
}

// Observer receives every label the processor emits.
type Observer interface {
	OnGazeLabel(u Update)
}

// Func adapts a function to Observer.
type Func func(u Update)

func (f Func) OnGazeLabel(u Update) { f(u) }

// Multi fans an update out to several observers in order.
type Multi []Observer

func (m Multi) OnGazeLabel(u Update) {
	for _, o := range m {
		o.OnGazeLabel(u)
	}
}

// Latest keeps the most recent update. The zero value is ready to use.
type Latest struct {
	v atomic.Pointer[Update]
}

func (l *Latest) OnGazeLabel(u Update) {
	l.v.Store(&u)
}

// Get returns the last update and whether one has been seen yet.
func (l *Latest) Get() (Update, bool) {
	p := l.v.Load()
	if p == nil {
		return Update{}, false
	}
	return *p, true
}

// Console rewrites a single status line whenever the label changes.
type Console struct {
	W io.Writer

	mu    sync.Mutex
	last  gaze.Label
	shown bool
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{W: w}
}

func (c *Console) OnGazeLabel(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shown && c.last == u.Label && u.Label != gaze.Invalid {
		return
	}
	c.last, c.shown = u.Label, true

	// \r + clear-line keeps the current status on one line, like a UI label.
	fmt.Fprintf(c.W, "\r\x1b[2K%s %s", icon(u.Label), u.Label)
	if u.Err != nil {
		fmt.Fprintf(c.W, " (%v)", u.Err)
	}
}

func icon(l gaze.Label) string {
	switch l {
	case gaze.LookingAtScreen:
		return "👀"
	case gaze.LookingDown:
		return "⬇️ "
	case gaze.NoFaceDetected:
		return "❔"
	default:
		return "⚠️ "
	}
}
