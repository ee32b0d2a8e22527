package camera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-inspect/pkg/frame"
)

// DeviceInfo describes a capture device found by Probe.
type DeviceInfo struct {
	Index  int     `json:"index"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// Probe opens device indices 0..max-1 and reports the ones that work.
func Probe(max int) []DeviceInfo {
	var found []DeviceInfo
	for i := 0; i < max; i++ {
		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			found = append(found, describe(i, vc))
		}
		vc.Close()
	}
	return found
}

func describe(index int, vc *gocv.VideoCapture) DeviceInfo {
	return DeviceInfo{
		Index:  index,
		Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    vc.Get(gocv.VideoCaptureFPS),
	}
}

// SelectDevice picks the device to open. A configured index must be among
// found. Otherwise the second device is used when there is more than one,
// since the first is usually a built-in webcam, and the first when alone.
func SelectDevice(found []DeviceInfo, configured int) (int, error) {
	if len(found) == 0 {
		return 0, ErrNoCameraFound
	}
	if configured != AutoDevice {
		for _, d := range found {
			if d.Index == configured {
				return configured, nil
			}
		}
		return 0, fmt.Errorf("%w: device %d not available", ErrNoCameraFound, configured)
	}
	if len(found) > 1 {
		return found[1].Index, nil
	}
	return found[0].Index, nil
}

// Source is an open capture device.
type Source struct {
	cfg    Config
	vc     *gocv.VideoCapture
	info   DeviceInfo
	logger *slog.Logger
	seq    uint64
}

// Open discovers devices, selects one and applies the requested mode.
func Open(cfg Config, logger *slog.Logger) (*Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "camera")

	found := Probe(cfg.Probe)
	index, err := SelectDevice(found, cfg.Device)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %d: %v", ErrNoCameraFound, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d did not open", ErrNoCameraFound, index)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	s := &Source{cfg: cfg, vc: vc, info: describe(index, vc), logger: logger}
	logger.Info("camera opened",
		"device", index,
		"devices_found", len(found),
		"width", s.info.Width,
		"height", s.info.Height,
		"fps", s.info.FPS,
	)
	return s, nil
}

// Info returns the negotiated device mode.
func (s *Source) Info() DeviceInfo {
	return s.info
}

// Run reads frames until ctx is done or the device fails. Each frame is
// passed to fn and closed when fn returns; fn must not keep it.
func (s *Source) Run(ctx context.Context, fn func(f *frame.Frame)) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		mat := gocv.NewMat()
		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			failures++
			if failures >= s.cfg.MaxReadFailures {
				return fmt.Errorf("%w: %d in a row on device %d", ErrReadFailed, failures, s.info.Index)
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0

		s.seq++
		f := frame.New(mat, s.seq, s.cfg.Quality)
		fn(f)
		f.Close()
	}
}

// Close releases the device.
func (s *Source) Close() error {
	return s.vc.Close()
}
