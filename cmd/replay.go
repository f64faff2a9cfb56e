package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	replayInput string
	replayOpts  Options
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the gaze classifier over a recorded video",
	Long: `Decodes a video at its native frame rate and feeds it through the same
sampling loop as watch, so results match what a live camera would have shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		if err := validateReplayInput(replayInput); err != nil {
			utils.ShowError("Invalid input", err, nil)
			return err
		}
		applyOverrides(cmd.Flags(), cfg, replayOpts)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()

		sourceID, err := utils.GenerateSourceID(replayInput)
		if err != nil {
			return err
		}
		log.Debug(log.Fields{"source_id": sourceID}, "[replay] fingerprinted input")

		total := utils.GetTotalFrames(ctx, replayInput)
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🎞️  Replaying "+filepath.Base(replayInput)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()

		cam := &camera.File{
			Path:    replayInput,
			OnFrame: func(types.Frame) { bar.Add(1) },
		}
		return runSession(ctx, cam, sessionOptions{
			Source: fmt.Sprintf("%s#%s", replayInput, sourceID[:12]),
			Record: replayOpts.Record,
		})
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "", "Path to the video file")
	replayCmd.MarkFlagRequired("input")
	addSessionFlags(replayCmd.Flags(), &replayOpts)
	rootCmd.AddCommand(replayCmd)
}

func validateReplayInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", path)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a video file: %s", path)
	}
	return nil
}
