package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/store"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reportEvents bool

var reportCmd = &cobra.Command{
	Use:         "report <session_id>",
	Short:       "Show how long a session spent looking at the screen and looking down",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		return runReport(cmd.Context(), id)
	},
}

func init() {
	reportCmd.Flags().BoolVarP(&reportEvents, "events", "e", false, "Also list every recorded transition")
	rootCmd.AddCommand(reportCmd)
}

func runReport(ctx context.Context, id uuid.UUID) error {
	sess, err := DB.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			fmt.Printf("❌ No session with ID %s.\n", id)
			return nil
		}
		utils.ShowError("Failed to load session", err, nil)
		return err
	}

	events, err := DB.SessionEvents(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load session events", err, nil)
		return err
	}

	end := time.Now()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	printReport(os.Stdout, sess, events, store.Summarize(events, end))
	if reportEvents {
		printEvents(os.Stdout, sess, events)
	}
	return nil
}

var reportOrder = []gaze.Label{gaze.LookingAtScreen, gaze.LookingDown, gaze.NoFaceDetected, gaze.Invalid}

func printReport(out io.Writer, sess store.Session, events []store.Event, sum store.Summary) {
	fmt.Fprintf(out, "Session %s\nSource:  %s\nStarted: %s\n", sess.ID, sess.Source, sess.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if sess.EndedAt == nil {
		fmt.Fprintln(out, "Status:  still running (or interrupted before it could close)")
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "\nNo transitions recorded.")
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tTIME\tSHARE")
	fmt.Fprintln(w, "-----\t----\t-----")
	for _, l := range reportOrder {
		d, ok := sum.Durations[l]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\n", l, fmtTime(d.Seconds()), 100*sum.Share(l))
	}
	fmt.Fprintf(w, "TOTAL\t%s\t%d transitions\n", fmtTime(sum.Total.Seconds()), sum.Transitions)
	w.Flush()
}

func printEvents(out io.Writer, sess store.Session, events []store.Event) {
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tFRAME\tLABEL\tREASON")
	fmt.Fprintln(w, "------\t-----\t-----\t------")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", fmtTime(e.ObservedAt.Sub(sess.StartedAt).Seconds()), e.FrameIndex, e.Label, e.Reason)
	}
	w.Flush()
}

func fmtTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
