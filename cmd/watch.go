package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/config"
	"github.com/andresmejia3/gazewatch/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds the flag overrides shared by watch and replay.
type Options struct {
	Backend  string
	Format   string
	Device   string
	FPS      int
	Width    int
	Height   int
	Tick     time.Duration
	HTTPAddr string
	Record   bool
}

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Classify gaze live from a webcam",
	Long: `Opens the camera, runs every sampled frame through the Face Mesh worker
and prints whether you are looking at the screen or down.

Use --http to serve /status and a /ws label stream, and --record to save
label transitions to PostgreSQL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		applyOverrides(cmd.Flags(), cfg, watchOpts)
		if err := cfg.Validate(); err != nil {
			return err
		}

		cam, err := camera.New(cfg.CameraOptions())
		if err != nil {
			utils.ShowError("Failed to open camera", err, nil)
			return err
		}
		return runSession(cmd.Context(), cam, sessionOptions{
			Source:  cfg.Camera.Device,
			Record:  watchOpts.Record,
			Console: os.Stdout,
		})
	},
}

func init() {
	addCameraFlags(watchCmd.Flags(), &watchOpts)
	addSessionFlags(watchCmd.Flags(), &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

func addCameraFlags(f *pflag.FlagSet, o *Options) {
	f.StringVar(&o.Backend, "backend", "ffmpeg", "Camera backend: "+joinBackends())
	f.StringVarP(&o.Format, "format", "f", "", "ffmpeg input format (v4l2, avfoundation, dshow)")
	f.StringVarP(&o.Device, "device", "d", "", "Camera device (e.g. /dev/video0 or 0)")
	f.IntVar(&o.FPS, "fps", 15, "Capture frame rate (0 lets the device decide)")
	f.IntVar(&o.Width, "width", 0, "Capture width (0 lets the device decide)")
	f.IntVar(&o.Height, "height", 0, "Capture height (0 lets the device decide)")
}

func addSessionFlags(f *pflag.FlagSet, o *Options) {
	f.DurationVarP(&o.Tick, "tick", "t", 66*time.Millisecond, "Interval between sampled frames")
	f.StringVar(&o.HTTPAddr, "http", "", "Serve /status, /healthz and /ws on this address (e.g. :8080)")
	f.BoolVar(&o.Record, "record", false, "Save label transitions to the database")
}

// applyOverrides copies only the flags the user actually set, so config
// file and environment values survive unset flags.
func applyOverrides(f *pflag.FlagSet, c *config.Config, o Options) {
	if f.Changed("backend") {
		c.Camera.Backend = o.Backend
	}
	if f.Changed("format") {
		c.Camera.Format = o.Format
	}
	if f.Changed("device") {
		c.Camera.Device = o.Device
	}
	if f.Changed("fps") {
		c.Camera.FPS = o.FPS
	}
	if f.Changed("width") {
		c.Camera.Width = o.Width
	}
	if f.Changed("height") {
		c.Camera.Height = o.Height
	}
	if f.Changed("tick") {
		c.Processor.TickInterval = o.Tick
	}
	if f.Changed("http") {
		c.Server.Addr = o.HTTPAddr
	}
}

func joinBackends() string {
	return strings.Join(camera.Backends(), ", ")
}
