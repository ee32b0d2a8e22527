// Inspect - Camera inspection station with a Python inference worker
// Streams a cropped live view, samples every Nth frame to the worker and
// shows its annotated overlay next to the feed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-inspect/internal/config"
	"github.com/teslashibe/go-inspect/internal/log"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgPath  string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "inspect",
	Short:         "Camera inspection station with a Python inference worker",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logger = log.Init(level)
		return nil
	},
}

func init() {
	// OpenCV windows must be driven from the main OS thread.
	runtime.LockOSThread()

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: search inspect.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
