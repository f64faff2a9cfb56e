package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/gazewatch/internal/config"
	"github.com/andresmejia3/gazewatch/internal/log"
	"github.com/andresmejia3/gazewatch/internal/store"
	"github.com/spf13/cobra"
)

// needsDB marks commands that cannot run without a database connection.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// cfg is the merged configuration, available once PersistentPreRunE has run
	cfg *config.Config

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "gazewatch",
	Short:   "Webcam gaze monitor: tells whether you are looking at the screen or down",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			loaded.Database.URL = dbURL
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		log.NewLogger(log.Options{Level: cfg.Log.Level, File: cfg.Log.File})

		if cmd.Annotations[needsDB] == "true" {
			return connectDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// connectDB opens the shared connection once.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL, POSTGRES_* or postgres://localhost:5432/gazewatch)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL or info)")
}
