package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-inspect/pkg/camera"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the capture devices OpenCV can open",
	RunE: func(cmd *cobra.Command, args []string) error {
		found := camera.Probe(cfg.Camera.Probe)
		if len(found) == 0 {
			return camera.ErrNoCameraFound
		}

		selected, _ := cfg.Camera.DeviceIndex()
		pick, err := camera.SelectDevice(found, selected)
		if err != nil {
			logger.Warn("configured device unavailable", "error", err)
			pick = -1
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "INDEX\tRESOLUTION\tFPS\t")
		fmt.Fprintln(w, "-----\t----------\t---\t")
		for _, d := range found {
			mark := ""
			if d.Index == pick {
				mark = "← selected"
			}
			fmt.Fprintf(w, "%d\t%dx%d\t%.0f\t%s\n", d.Index, d.Width, d.Height, d.FPS, mark)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
