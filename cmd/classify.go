package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/gazewatch/internal/gaze"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/andresmejia3/gazewatch/internal/worker"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image_path>",
	Short: "Classify the gaze of every face in a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runClassify(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(ctx context.Context, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark worker...")
	w, err := worker.NewLandmarkWorker(ctx, 0, cfg.WorkerConfig())
	if err != nil {
		utils.ShowError("Failed to start landmark worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Detecting landmarks...")
	faces, err := w.ProcessFrame(imgData)
	if err != nil {
		utils.ShowError("Landmark detection failed", err, w.Cmd)
		return err
	}

	printClassification(os.Stdout, faces)
	return nil
}

// printClassification reports one line per face. The live processor only
// uses the first face; here every face is shown.
func printClassification(out io.Writer, faces []gaze.LandmarkSet) {
	if len(faces) == 0 {
		fmt.Fprintf(out, "❔ %s\n", gaze.NoFaceDetected)
		return
	}

	for i, face := range faces {
		label, err := gaze.Classify(face)
		if err != nil {
			reason := "invalid landmarks"
			switch {
			case errors.Is(err, gaze.ErrInsufficientLandmarks):
				reason = "too few landmarks (is refine_landmarks enabled?)"
			case errors.Is(err, gaze.ErrMissingRequiredLandmark):
				reason = "a required landmark is missing"
			}
			fmt.Fprintf(out, "Face %d: ⚠️  %s: %v\n", i+1, reason, err)
			continue
		}

		m, _ := gaze.Measure(face)
		fmt.Fprintf(out, "Face %d: %s (left eye %.2f, right eye %.2f, head tilted down: %t)\n",
			i+1, label, m.LeftRatio, m.RightRatio, m.HeadTiltedDown)
	}
}
