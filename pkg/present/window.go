package present

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/frame"
)

// ErrWindowClosed is returned by Window.Run when the operator closes a window
// or presses q / Esc.
var ErrWindowClosed = errors.New("present: window closed")

// mailbox is a one-slot, latest-wins handoff to the window thread. A put
// replaces and releases any Mat not yet taken.
type mailbox struct {
	mu  sync.Mutex
	mat gocv.Mat
	has bool
}

func (m *mailbox) put(mat gocv.Mat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has {
		m.mat.Close()
	}
	m.mat = mat
	m.has = true
}

func (m *mailbox) take() (gocv.Mat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return gocv.Mat{}, false
	}
	mat := m.mat
	m.mat = gocv.Mat{}
	m.has = false
	return mat, true
}

func (m *mailbox) drain() {
	if mat, ok := m.take(); ok {
		mat.Close()
	}
}

// Window shows the live view and the overlay in two native OpenCV windows.
// Run must be called from the main OS thread.
type Window struct {
	liveTitle    string
	overlayTitle string
	logger       *slog.Logger

	sizeMu      sync.Mutex
	overlaySize image.Point

	live    mailbox
	overlay mailbox

	statusMu sync.Mutex
	status   string
}

// NewWindow creates a Window. overlaySize is the overlay box in pixels;
// the zero value shows overlays at their own size.
func NewWindow(title string, overlaySize image.Point, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{
		liveTitle:    title + " - live",
		overlayTitle: title + " - inference",
		overlaySize:  overlaySize,
		logger:       logger.With("component", "window"),
	}
}

// SetOverlaySize changes the overlay box from the next overlay on. It is
// safe to call while Run is active.
func (w *Window) SetOverlaySize(size image.Point) {
	w.sizeMu.Lock()
	w.overlaySize = size
	w.sizeMu.Unlock()
}

// OverlaySize returns the current overlay box.
func (w *Window) OverlaySize() image.Point {
	w.sizeMu.Lock()
	defer w.sizeMu.Unlock()
	return w.overlaySize
}

// ShowLiveFrame implements Sink. The Mat is cloned; f stays owned by the caller.
func (w *Window) ShowLiveFrame(f *frame.Frame) {
	if f == nil || f.Mat.Empty() {
		return
	}
	w.live.put(f.Mat.Clone())
}

// ShowOverlay implements Sink.
func (w *Window) ShowOverlay(o bridge.Overlay) {
	mat, err := gocv.IMDecode(o.Data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		mat.Close()
		w.logger.Warn("overlay decode for window failed", "seq", o.Seq, "error", err)
		return
	}
	w.overlay.put(mat)
}

// Log implements Sink. Status lines become the overlay window title.
func (w *Window) Log(tag bridge.Tag, msg string) {
	if tag != bridge.TagStatus {
		return
	}
	w.statusMu.Lock()
	w.status = msg
	w.statusMu.Unlock()
}

func (w *Window) takeStatus() string {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	s := w.status
	w.status = ""
	return s
}

// Run drives the windows until ctx is done or the operator closes them.
func (w *Window) Run(ctx context.Context) error {
	live := gocv.NewWindow(w.liveTitle)
	defer live.Close()
	ov := gocv.NewWindow(w.overlayTitle)
	defer ov.Close()

	defer w.live.drain()
	defer w.overlay.drain()

	resized := gocv.NewMat()
	defer resized.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if mat, ok := w.live.take(); ok {
			live.IMShow(mat)
			mat.Close()
		}

		if mat, ok := w.overlay.take(); ok {
			if size := w.OverlaySize(); size.X > 0 && size.Y > 0 {
				gocv.Resize(mat, &resized, size, 0, 0, gocv.InterpolationLinear)
				ov.IMShow(resized)
			} else {
				ov.IMShow(mat)
			}
			mat.Close()
		}

		if s := w.takeStatus(); s != "" {
			ov.SetWindowTitle(w.overlayTitle + " | " + s)
		}

		switch key := live.WaitKey(10); key {
		case 'q', 27:
			return ErrWindowClosed
		}
		if !live.IsOpen() || !ov.IsOpen() {
			return ErrWindowClosed
		}
	}
}
