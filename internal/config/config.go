package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/gazewatch/internal/camera"
	"github.com/andresmejia3/gazewatch/internal/types"
	"github.com/andresmejia3/gazewatch/internal/worker"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	Processor ProcessorConfig `yaml:"processor"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

type CameraConfig struct {
	Backend string `yaml:"backend" validate:"required"`
	Format  string `yaml:"format"`
	Device  string `yaml:"device" validate:"required"`
	FPS     int    `yaml:"fps" validate:"gte=0,lte=240"`
	Width   int    `yaml:"width" validate:"gte=0"`
	Height  int    `yaml:"height" validate:"gte=0"`
}

type DetectorConfig struct {
	types.DetectorConfig `yaml:",inline"`

	Python      string        `yaml:"python" validate:"required"`
	Script      string        `yaml:"script" validate:"required"`
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`
}

type ProcessorConfig struct {
	TickInterval time.Duration `yaml:"tick" validate:"gt=0"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"` // empty disables the HTTP server
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	File  string `yaml:"file"`
}

// Default returns settings that work with a local webcam and the bundled worker script.
func Default() *Config {
	format, device := "v4l2", "/dev/video0"
	switch runtime.GOOS {
	case "darwin":
		format, device = "avfoundation", "0"
	case "windows":
		format, device = "dshow", "video=Integrated Camera"
	}

	return &Config{
		Camera: CameraConfig{
			Backend: "ffmpeg",
			Format:  format,
			Device:  device,
			FPS:     15,
		},
		Detector: DetectorConfig{
			DetectorConfig: types.DefaultDetectorConfig(),
			Python:         "python3",
			Script:         "python/landmark_worker.py",
			ReadTimeout:    10 * time.Second,
		},
		Processor: ProcessorConfig{
			TickInterval: 66 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. A .env file in the working directory is loaded
// first if present; it never overrides variables that are already set.
// Callers apply flag overrides and then call Validate.
func Load(path string) (*Config, error) {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("GAZE_CAMERA_BACKEND", &c.Camera.Backend)
	envString("GAZE_INPUT_FORMAT", &c.Camera.Format)
	envString("GAZE_DEVICE", &c.Camera.Device)
	envString("GAZE_PYTHON", &c.Detector.Python)
	envString("GAZE_WORKER_SCRIPT", &c.Detector.Script)
	envString("GAZE_HTTP_ADDR", &c.Server.Addr)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FILE", &c.Log.File)

	if err := envInt("GAZE_FPS", &c.Camera.FPS); err != nil {
		return err
	}
	if err := envInt("GAZE_MAX_FACES", &c.Detector.MaxFaces); err != nil {
		return err
	}
	if err := envFloat("GAZE_MIN_DETECTION_CONFIDENCE", &c.Detector.MinDetectionConfidence); err != nil {
		return err
	}
	if err := envFloat("GAZE_MIN_TRACKING_CONFIDENCE", &c.Detector.MinTrackingConfidence); err != nil {
		return err
	}
	if err := envDuration("GAZE_TICK", &c.Processor.TickInterval); err != nil {
		return err
	}
	if err := envDuration("GAZE_WORKER_TIMEOUT", &c.Detector.ReadTimeout); err != nil {
		return err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	} else if c.Database.URL == "" {
		c.Database.URL = postgresURLFromEnv()
	}
	return nil
}

// postgresURLFromEnv builds a connection string from the POSTGRES_* variables,
// falling back to a local default when POSTGRES_HOST is unset.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/gazewatch"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

// Validate checks every field against its struct tag.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(errs))
			for _, fe := range errs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CameraOptions converts the camera section for camera.New.
func (c *Config) CameraOptions() camera.Options {
	return camera.Options{
		Backend: c.Camera.Backend,
		Format:  c.Camera.Format,
		Device:  c.Camera.Device,
		FPS:     c.Camera.FPS,
		Width:   c.Camera.Width,
		Height:  c.Camera.Height,
	}
}

// WorkerConfig converts the detector section for worker.NewLandmarkWorker.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Python:      c.Detector.Python,
		Script:      c.Detector.Script,
		Detector:    c.Detector.DetectorConfig,
		ReadTimeout: c.Detector.ReadTimeout,
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
