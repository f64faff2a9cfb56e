package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/observer"
	"github.com/andresmejia3/gazewatch/internal/processor"
	"github.com/andresmejia3/gazewatch/internal/server"
	"github.com/andresmejia3/gazewatch/internal/store"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/andresmejia3/gazewatch/internal/worker"
)

// sessionOptions are the parts of a run shared by watch and replay.
type sessionOptions struct {
	Source  string
	Record  bool
	Console io.Writer // live status line; nil when a progress bar owns the terminal
}

// runSession starts the landmark worker, wires every observer and runs the
// processor until ctx is cancelled or the source ends.
func runSession(ctx context.Context, cam camera.Camera, opts sessionOptions) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting landmark worker...")
	w, err := worker.NewLandmarkWorker(ctx, 0, cfg.WorkerConfig())
	if err != nil {
		utils.ShowError("Failed to start landmark worker", err, nil)
		return err
	}
	defer w.Close()

	latest := &observer.Latest{}
	tally := newLabelTally()
	obs := observer.Multi{latest, tally}
	if opts.Console != nil {
		obs = append(obs, observer.NewConsole(opts.Console))
	}

	var rec *store.Recorder
	var sess store.Session
	if opts.Record {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Recording requested but the database is unreachable", err, nil)
			return err
		}
		sess.ID, err = DB.CreateSession(ctx, opts.Source)
		if err != nil {
			utils.ShowError("Failed to create session", err, nil)
			return err
		}
		rec = store.NewRecorder(DB, sess.ID)
		obs = append(obs, rec)
	}

	var hub *server.Hub
	if cfg.Server.Addr != "" {
		hub = server.NewHub()
		obs = append(obs, hub)
	}

	proc := processor.New(cam, worker.NewAsync(w), obs, processor.Config{TickInterval: cfg.Processor.TickInterval})

	if hub != nil {
		srv := server.NewServer(cfg.Server.Addr, hub, proc, latest)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error(log.Fields{"error": err.Error()}, "[runSession] web server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	runErr := proc.Run(ctx)
	if opts.Console != nil {
		fmt.Fprintln(opts.Console)
	}
	if runErr != nil {
		utils.ShowError("Gaze processing stopped", runErr, w.Cmd)
	}

	if rec != nil {
		// ctx may already be cancelled; flushing and closing the session must still happen.
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rec.Close(flushCtx); err != nil {
			log.Warn(log.Fields{"error": err.Error()}, "[runSession] recorder did not flush in time")
		}
		if err := DB.EndSession(flushCtx, sess.ID, time.Now()); err != nil {
			log.Error(log.Fields{"session": sess.ID.String(), "error": err.Error()}, "[runSession] failed to close session")
		}
		written, dropped, failed := rec.Counts()
		fmt.Fprintf(os.Stderr, "💾 Session %s: %d transitions saved", sess.ID, written)
		if dropped+failed > 0 {
			fmt.Fprintf(os.Stderr, " (%d dropped, %d failed)", dropped, failed)
		}
		fmt.Fprintln(os.Stderr)
	}

	printRunSummary(os.Stdout, proc.Stats(), tally.snapshot())
	return runErr
}

// labelTally counts published labels per kind for the end-of-run summary.
type labelTally struct {
	mu     sync.Mutex
	counts map[gaze.Label]int
}

func newLabelTally() *labelTally {
	return &labelTally{counts: make(map[gaze.Label]int)}
}

func (t *labelTally) OnGazeLabel(u observer.Update) {
	t.mu.Lock()
	t.counts[u.Label]++
	t.mu.Unlock()
}

func (t *labelTally) snapshot() map[gaze.Label]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[gaze.Label]int, len(t.counts))
	for l, n := range t.counts {
		out[l] = n
	}
	return out
}

func printRunSummary(out io.Writer, stats processor.Stats, counts map[gaze.Label]int) {
	total := 0
	labels := make([]gaze.Label, 0, len(counts))
	for l, n := range counts {
		total += n
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	fmt.Fprintf(out, "\n📊 %d frames classified (%d ticks skipped, %d rejected by the worker)\n",
		stats.Completed, stats.Skipped, stats.Rejected)
	if total == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tFRAMES\tSHARE")
	fmt.Fprintln(w, "-----\t------\t-----")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", l, counts[l], 100*float64(counts[l])/float64(total))
	}
	w.Flush()
}
