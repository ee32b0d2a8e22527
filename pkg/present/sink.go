// Package present delivers live frames, inference overlays and log lines to
// whatever surfaces the operator is watching.
//
// Every Sink method may be called from any goroutine. Implementations hand
// work to their own owner goroutine (or thread) and return quickly; they must
// not keep a reference to a Frame after returning.
package present

import (
	"log/slog"

	"github.com/teslashibe/go-inspect/pkg/bridge"
	"github.com/teslashibe/go-inspect/pkg/frame"
)

// Sink is a presentation surface.
type Sink interface {
	// ShowLiveFrame displays the cropped camera frame. The frame is closed by
	// the caller right after this returns.
	ShowLiveFrame(f *frame.Frame)

	bridge.Sink
}

// Fanout delivers to several sinks in order.
type Fanout []Sink

// ShowLiveFrame implements Sink.
func (fs Fanout) ShowLiveFrame(f *frame.Frame) {
	for _, s := range fs {
		s.ShowLiveFrame(f)
	}
}

// ShowOverlay implements Sink.
func (fs Fanout) ShowOverlay(o bridge.Overlay) {
	for _, s := range fs {
		s.ShowOverlay(o)
	}
}

// Log implements Sink.
func (fs Fanout) Log(tag bridge.Tag, msg string) {
	for _, s := range fs {
		s.Log(tag, msg)
	}
}

// LogSink writes log lines to a structured logger and ignores images.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a LogSink. A nil logger means slog.Default.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{Logger: l.With("component", "present")}
}

// ShowLiveFrame implements Sink.
func (s *LogSink) ShowLiveFrame(*frame.Frame) {}

// ShowOverlay implements Sink.
func (s *LogSink) ShowOverlay(o bridge.Overlay) {
	s.Logger.Debug("overlay", "seq", o.Seq, "status", o.Status, "score", o.Score, "request_id", o.RequestID, "bytes", len(o.Data))
}

// Log implements Sink.
func (s *LogSink) Log(tag bridge.Tag, msg string) {
	switch tag {
	case bridge.TagError:
		s.Logger.Warn(msg, "tag", string(tag))
	case bridge.TagStatus:
		s.Logger.Debug(msg, "tag", string(tag))
	default:
		s.Logger.Info(msg, "tag", string(tag))
	}
}
