package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/gazewatch/internal/store"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "List recorded watch and replay sessions",
	Annotations: map[string]string{needsDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runSessions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(ctx context.Context) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}
	printSessions(os.Stdout, sessions)
}

func printSessions(out io.Writer, sessions []store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTARTED\tDURATION\tTRANSITIONS")
	fmt.Fprintln(w, "--\t------\t-------\t--------\t-----------")

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = fmtTime(s.EndedAt.Sub(s.StartedAt).Seconds())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Source, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Events)
	}
	w.Flush()
}
