// Package inspect wires the station together: camera, crop, sampling,
// inference bridge and presentation sinks.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-inspect/internal/config"
	"github.com/teslashibe/go-inspect/internal/lock"
	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/camera"
	"github.com/teslashibe/go-inspect/pkg/frame"
	"github.com/teslashibe/go-inspect/pkg/metrics"
	"github.com/teslashibe/go-inspect/pkg/present"
	"github.com/teslashibe/go-inspect/pkg/web"
)

// FrameSource delivers camera frames. *camera.Source implements it.
type FrameSource interface {
	Run(ctx context.Context, fn func(f *frame.Frame)) error
	Info() camera.DeviceInfo
	Close() error
}

// Inferer is the inference process. *bridge.Bridge implements it.
type Inferer interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Submit(img bridge.Image) error
	State() bridge.State
	Stats() bridge.Stats
}

// Status is the application snapshot served to the dashboard.
type Status struct {
	Bridge   bridge.Stats      `json:"bridge"`
	Frames   uint64            `json:"frames"`
	Sampled  uint64            `json:"sampled"`
	Camera   camera.DeviceInfo `json:"camera"`
	Settings Settings          `json:"settings"`
	Script   string            `json:"script"`
	Uptime   string            `json:"uptime"`
}

// App is the station orchestrator.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	settings *SettingsManager
	sampler  *frame.Sampler

	source  FrameSource
	bridge  Inferer
	sink    present.Sink
	web     *web.Server
	window  *present.Window
	metrics *metrics.Metrics
	lock    *lock.Lock

	ctx     context.Context
	started time.Time
	frames  atomic.Uint64
	sampled atomic.Uint64
}

// New creates the application. Nothing is opened until Init.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalid, strings.Join(problems, "; "))
	}
	if logger == nil {
		logger = slog.Default()
	}

	initial := DefaultSettings()
	initial.SampleInterval = cfg.Inference.SampleInterval
	initial.DisplayWidth = cfg.Display.Width
	initial.DisplayHeight = cfg.Display.Height
	initial.JPEGQuality = cfg.Camera.Quality

	sampler, err := frame.NewSampler(initial.SampleInterval)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		settings: NewSettingsManager(initial),
		sampler:  sampler,
		ctx:      context.Background(),
		started:  time.Now(),
	}
	a.settings.OnChange = func(s Settings) error {
		if err := a.sampler.SetInterval(s.SampleInterval); err != nil {
			return err
		}
		if a.window != nil {
			a.window.SetOverlaySize(image.Pt(s.DisplayWidth, s.DisplayHeight))
		}
		a.logger.Info("settings updated", "sample_interval", s.SampleInterval, "display", fmt.Sprintf("%dx%d", s.DisplayWidth, s.DisplayHeight), "jpeg_quality", s.JPEGQuality)
		return nil
	}
	return a, nil
}

// Init takes the instance lock, opens the camera and builds the sinks and
// the bridge. The inference process is not started here.
func (a *App) Init() error {
	fmt.Println("🔎 go-inspect")
	fmt.Println("=============")

	l, err := lock.Acquire(a.cfg.Lock.Path)
	if err != nil {
		return err
	}
	a.lock = l

	fmt.Print("📷 Opening camera... ")
	src, err := camera.Open(a.cfg.CameraConfig(), a.logger)
	if err != nil {
		fmt.Println("❌")
		return fmt.Errorf("camera: %w", err)
	}
	a.source = src
	info := src.Info()
	fmt.Printf("✅ device %d (%dx%d @ %.0f fps)\n", info.Index, info.Width, info.Height, info.FPS)

	sinks := present.Fanout{present.NewLogSink(a.logger)}

	if !a.cfg.Web.Disabled {
		a.metrics = metrics.New(metrics.Sources{
			Frames:  a.frames.Load,
			Sampled: a.sampled.Load,
			Bridge:  func() bridge.Stats { return a.bridge.Stats() },
			Viewers: func() map[string]int { return a.web.Viewers() },
		})
		a.web = web.NewServer(web.Config{
			Addr:      a.cfg.Web.Addr,
			StaticDir: a.cfg.Web.StaticDir,
			Metrics:   a.metrics.Handler(),
			Logger:    a.logger,
		})
		a.web.OnBridgeAction = a.bridgeAction
		a.web.OnStatus = func() any { return a.Status() }
		a.web.OnGetSettings = func() any { return a.settings.Get() }
		a.web.OnUpdateSettings = func(u map[string]any) (any, error) { return a.settings.Update(u) }
		sinks = append(sinks, a.web)
	}

	if a.cfg.Display.Window {
		s := a.settings.Get()
		a.window = present.NewWindow("go-inspect", image.Pt(s.DisplayWidth, s.DisplayHeight), a.logger)
		sinks = append(sinks, a.window)
	}
	a.sink = sinks

	opts := append(a.cfg.BridgeOptions(), bridge.WithLogger(a.logger))
	b, err := bridge.New(a.sink, opts...)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	a.bridge = b

	fmt.Printf("🐍 Inference: %s %v (every %d frames, %s transfer)\n",
		a.cfg.Inference.Command, b.Config().Args, a.cfg.Inference.SampleInterval, a.cfg.Inference.Transfer)
	return nil
}

// Run starts the pipeline and blocks until ctx is done, the camera fails or
// the operator closes the native window. With a window, Run must be called
// from the main OS thread.
func (a *App) Run(ctx context.Context) error {
	a.ctx = ctx

	if a.web != nil {
		a.web.StartAsync(ctx)
		fmt.Printf("🌐 Web dashboard: http://localhost%s\n", a.cfg.Web.Addr)
		go a.publishState(ctx)
	}

	if a.cfg.Inference.LazyStart {
		fmt.Println("⏸️  Inference process waits for the dashboard start button")
		a.sink.Log(bridge.TagInfo, "press Start to run the inference script")
	} else if err := a.bridge.Start(ctx); err != nil {
		fmt.Printf("⚠️  Inference process: %v\n", err)
	}

	if a.cfg.Inference.Watch {
		go a.watchScript(ctx, a.cfg.ScriptPath(), reloadDebounce)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	camErr := make(chan error, 1)
	go func() {
		err := a.source.Run(loopCtx, a.handleFrame)
		cancel()
		camErr <- err
	}()

	fmt.Println("\n🎥 Inspecting. Ctrl+C to exit.")

	var runErr error
	if a.window != nil {
		if err := a.window.Run(loopCtx); err != nil && !errors.Is(err, present.ErrWindowClosed) {
			runErr = err
		}
		cancel()
	} else {
		<-loopCtx.Done()
	}

	// Wait for the read loop so the device is idle before Shutdown closes it.
	if err := <-camErr; err != nil {
		return err
	}
	return runErr
}

// handleFrame runs once per camera callback: crop, show, sample, submit.
// The cropped frame is released on every path; raw is closed by the source.
func (a *App) handleFrame(raw *frame.Frame) {
	start := time.Now()
	a.frames.Add(1)
	forward := a.sampler.ShouldForward()

	s := a.settings.Get()
	mat, err := frame.Crop(raw.Mat, s.Aspect())
	if err != nil {
		mat.Close()
		a.logger.Debug("crop failed", "seq", raw.Seq, "error", err)
		return
	}
	f := frame.New(mat, raw.Seq, s.JPEGQuality)
	f.Time = raw.Time
	defer f.Close()

	a.sink.ShowLiveFrame(f)

	if forward {
		a.sampled.Add(1)
		if err := a.bridge.Submit(f); err != nil {
			a.logger.Debug("frame not submitted", "seq", f.Seq, "error", err)
		}
	}

	if a.metrics != nil {
		a.metrics.FrameSeconds.Observe(time.Since(start).Seconds())
	}
}

// bridgeAction serves the dashboard start, stop and restart buttons.
func (a *App) bridgeAction(action string) error {
	switch action {
	case "start":
		return a.bridge.Start(a.ctx)
	case "stop":
		a.bridge.Stop()
		return nil
	case "restart":
		return a.bridge.Restart(a.ctx)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// Status returns the current application snapshot.
func (a *App) Status() Status {
	st := Status{
		Frames:   a.frames.Load(),
		Sampled:  a.sampled.Load(),
		Settings: a.settings.Get(),
		Script:   a.cfg.ScriptPath(),
		Uptime:   time.Since(a.started).Round(time.Second).String(),
	}
	if a.bridge != nil {
		st.Bridge = a.bridge.Stats()
	}
	if a.source != nil {
		st.Camera = a.source.Info()
	}
	return st
}

func (a *App) publishState(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.web.PublishState(a.Status())
		}
	}
}

// Shutdown stops the inference process, releases the camera, stops the
// dashboard and drops the instance lock. Call after Run returns.
func (a *App) Shutdown() {
	fmt.Println("\n👋 Shutting down...")

	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.logger.Warn("close camera", "error", err)
		}
	}
	if a.web != nil {
		if err := a.web.Shutdown(); err != nil {
			a.logger.Warn("stop dashboard", "error", err)
		}
	}
	if a.lock != nil {
		a.lock.Release()
	}
}
