// Package config loads go-inspect settings from an optional inspect.yaml and
// INSPECT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/camera"
)

// EnvPrefix prefixes environment overrides, e.g. INSPECT_INFERENCE_SAMPLE_INTERVAL.
const EnvPrefix = "INSPECT"

// FileName is the config file searched for when no path is given.
const FileName = "inspect.yaml"

// ErrInvalid is returned by Load when validation fails.
var ErrInvalid = errors.New("config: invalid")

// Config is the full station configuration.
type Config struct {
	LogLevel  string    `fig:"log_level" default:"info"`
	Camera    Camera    `fig:"camera"`
	Display   Display   `fig:"display"`
	Inference Inference `fig:"inference"`
	Web       Web       `fig:"web"`
	Lock      Lock      `fig:"lock"`
}

// Camera selects and configures the capture device.
type Camera struct {
	Device    string `fig:"device" default:"auto"` // "auto" or an index
	Width     int    `fig:"width" default:"1280"`
	Height    int    `fig:"height" default:"720"`
	Framerate int    `fig:"framerate" default:"30"`
	Probe     int    `fig:"probe" default:"4"`
	Quality   int    `fig:"quality" default:"90"`
}

// Display is the surface the live view is cropped for.
type Display struct {
	Width  int  `fig:"width" default:"876"`
	Height int  `fig:"height" default:"330"`
	Window bool `fig:"window"` // Native OpenCV windows
}

// Inference configures the worker process.
type Inference struct {
	Command        string        `fig:"command" default:"python"`
	Args           []string      `fig:"args" default:"[-u]"`
	Script         string        `fig:"script" default:"python/infer.py"`
	Dir            string        `fig:"dir"`
	Transfer       string        `fig:"transfer" default:"file"`
	TempDir        string        `fig:"temp_dir"`
	SampleInterval int           `fig:"sample_interval" default:"5"`
	WriteTimeout   time.Duration `fig:"write_timeout" default:"250ms"`
	GracePeriod    time.Duration `fig:"grace_period" default:"1s"`
	KillTimeout    time.Duration `fig:"kill_timeout" default:"2s"`
	LazyStart      bool          `fig:"lazy_start"` // Wait for the dashboard start button
	Watch          bool          `fig:"watch"`      // Restart when the script changes
}

// Web configures the dashboard.
type Web struct {
	Disabled  bool   `fig:"disabled"`
	Addr      string `fig:"addr" default:":8080"`
	StaticDir string `fig:"static_dir" default:"web"`
}

// Lock configures the single-instance lock.
type Lock struct {
	Path string `fig:"path"` // Empty = <tmp>/go-inspect.lock
}

// Load reads the config. An explicit path must exist; without one the file
// is optional and searched in ".", "configs" and ~/.config/inspect.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = fig.Load(cfg,
			fig.File(filepath.Base(path)),
			fig.Dirs(filepath.Dir(path)),
			fig.UseEnv(EnvPrefix),
		)
	} else {
		dirs := []string{".", "configs"}
		if home, herr := os.UserHomeDir(); herr == nil {
			dirs = append(dirs, filepath.Join(home, ".config", "inspect"))
		}
		err = fig.Load(cfg, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
		if errors.Is(err, fig.ErrFileNotFound) {
			cfg = &Config{}
			err = fig.Load(cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Validate returns every problem found, or nil.
func (c *Config) Validate() []string {
	var problems []string

	if _, err := c.Camera.DeviceIndex(); err != nil {
		problems = append(problems, err.Error())
	}
	cam := c.CameraConfig()
	problems = append(problems, cam.Validate()...)

	if c.Display.Width < 1 || c.Display.Height < 1 {
		problems = append(problems, "display width and height must be positive")
	}

	if c.Inference.Command == "" {
		problems = append(problems, "inference.command is required")
	}
	switch c.Inference.Transfer {
	case bridge.TransferFile, bridge.TransferFramed:
	default:
		problems = append(problems, fmt.Sprintf("inference.transfer must be %q or %q", bridge.TransferFile, bridge.TransferFramed))
	}
	if c.Inference.SampleInterval < 1 {
		problems = append(problems, "inference.sample_interval must be at least 1")
	}
	if c.Inference.WriteTimeout <= 0 || c.Inference.KillTimeout <= 0 || c.Inference.GracePeriod < 0 {
		problems = append(problems, "inference timeouts must be positive")
	}

	if !c.Web.Disabled && c.Web.Addr == "" {
		problems = append(problems, "web.addr is required unless web.disabled")
	}

	return problems
}

// DeviceIndex parses Device: "auto" (or empty) means camera.AutoDevice.
func (c Camera) DeviceIndex() (int, error) {
	d := strings.TrimSpace(strings.ToLower(c.Device))
	if d == "" || d == "auto" {
		return camera.AutoDevice, nil
	}
	n, err := strconv.Atoi(d)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("camera.device must be \"auto\" or a device index, got %q", c.Device)
	}
	return n, nil
}

// CameraConfig converts to the capture package config.
func (c *Config) CameraConfig() camera.Config {
	cam := camera.DefaultConfig()
	if idx, err := c.Camera.DeviceIndex(); err == nil {
		cam.Device = idx
	}
	cam.Width = c.Camera.Width
	cam.Height = c.Camera.Height
	cam.Framerate = c.Camera.Framerate
	cam.Probe = c.Camera.Probe
	cam.Quality = c.Camera.Quality
	return cam
}

// Aspect is the display aspect ratio frames are cropped to.
func (c *Config) Aspect() float64 {
	return float64(c.Display.Width) / float64(c.Display.Height)
}

// BridgeOptions converts to bridge options. The script is appended to Args.
func (c *Config) BridgeOptions() []bridge.Option {
	args := append([]string(nil), c.Inference.Args...)
	if c.Inference.Script != "" {
		args = append(args, c.Inference.Script)
	}
	return []bridge.Option{
		bridge.WithCommand(c.Inference.Command, args...),
		bridge.WithDir(c.Inference.Dir),
		bridge.WithTransfer(c.Inference.Transfer),
		bridge.WithTempDir(c.Inference.TempDir),
		bridge.WithWriteTimeout(c.Inference.WriteTimeout),
		bridge.WithShutdown(c.Inference.GracePeriod, c.Inference.KillTimeout),
	}
}

// ScriptPath returns the script location resolved against Dir.
func (c *Config) ScriptPath() string {
	if c.Inference.Script == "" || filepath.IsAbs(c.Inference.Script) || c.Inference.Dir == "" {
		return c.Inference.Script
	}
	return filepath.Join(c.Inference.Dir, c.Inference.Script)
}
