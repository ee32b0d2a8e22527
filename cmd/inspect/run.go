package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-inspect/pkg/inspect"
)

var runFlags struct {
	device   string
	script   string
	interval int
	transfer string
	addr     string
	noWeb    bool
	window   bool
	lazy     bool
	watch    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the inspection station",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd)

		app, err := inspect.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := app.Init(); err != nil {
			app.Shutdown()
			return err
		}
		defer app.Shutdown()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return app.Run(ctx)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.device, "device", "", `camera index or "auto"`)
	f.StringVar(&runFlags.script, "script", "", "inference script path")
	f.IntVar(&runFlags.interval, "every", 0, "forward every Nth frame to inference")
	f.StringVar(&runFlags.transfer, "transfer", "", "frame transfer: file or framed")
	f.StringVar(&runFlags.addr, "addr", "", "dashboard listen address")
	f.BoolVar(&runFlags.noWeb, "no-web", false, "disable the web dashboard")
	f.BoolVar(&runFlags.window, "window", false, "show native OpenCV windows")
	f.BoolVar(&runFlags.lazy, "lazy", false, "wait for the dashboard start button")
	f.BoolVar(&runFlags.watch, "watch", false, "restart inference when the script changes")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides config values with flags set on the command line.
func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Camera.Device = runFlags.device
	}
	if f.Changed("script") {
		cfg.Inference.Script = runFlags.script
	}
	if f.Changed("every") {
		cfg.Inference.SampleInterval = runFlags.interval
	}
	if f.Changed("transfer") {
		cfg.Inference.Transfer = runFlags.transfer
	}
	if f.Changed("addr") {
		cfg.Web.Addr = runFlags.addr
	}
	if f.Changed("no-web") {
		cfg.Web.Disabled = runFlags.noWeb
	}
	if f.Changed("window") {
		cfg.Display.Window = runFlags.window
	}
	if f.Changed("lazy") {
		cfg.Inference.LazyStart = runFlags.lazy
	}
	if f.Changed("watch") {
		cfg.Inference.Watch = runFlags.watch
	}
}
