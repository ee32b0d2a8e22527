package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
)

// Tag classifies a log line for the presentation layer.
type Tag string

const (
	TagInfo   Tag = "info"   // Bridge lifecycle
	TagStatus Tag = "status" // Status pane
	TagStdout Tag = "stdout" // Worker output that is not a result
	TagStderr Tag = "stderr" // Worker diagnostics
	TagError  Tag = "error"  // Failures
)

// Prefix returns the label shown in front of a log line.
func (t Tag) Prefix() string {
	switch t {
	case TagStdout:
		return "[PY OUT]"
	case TagStderr:
		return "[PY ERR]"
	case TagError:
		return "[ERROR]"
	case TagStatus:
		return "[STATUS]"
	default:
		return "[INFO]"
	}
}

// Result is one response line from the inference process.
type Result struct {
	Status  *string  `json:"status,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Overlay *string  `json:"overlay,omitempty"`
	Error   string   `json:"error,omitempty"`
	ID      string   `json:"id,omitempty"`
}

// ParseResult parses a single stdout line. Anything other than a JSON object
// is reported as ErrMalformedResponse.
func ParseResult(line []byte) (Result, error) {
	var r Result
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return r, ErrMalformedResponse
	}
	if err := json.Unmarshal(line, &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return r, nil
}

// Known reports whether the object carries any field of the result protocol.
func (r Result) Known() bool {
	return r.Status != nil || r.Score != nil || r.Overlay != nil || r.Error != "" || r.ID != ""
}

// HasOverlay reports whether an overlay payload is present and non-empty.
func (r Result) HasOverlay() bool {
	return r.Overlay != nil && *r.Overlay != ""
}

// StatusText returns the status, or "" when absent.
func (r Result) StatusText() string {
	if r.Status == nil {
		return ""
	}
	return *r.Status
}

// ScoreValue returns the score, or 0 when absent.
func (r Result) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// StatusLine formats a result that carried no overlay.
func (r Result) StatusLine() string {
	return fmt.Sprintf("Status: %s | Score: %.3f", r.StatusText(), r.ScoreValue())
}

// Overlay is a decoded result image with its annotations.
type Overlay struct {
	Image     image.Image
	Data      []byte // Raw encoded image as sent by the worker
	Format    string // "jpeg" or "png"
	Status    string
	Score     float64
	RequestID string
	Seq       uint64 // 1-based overlay count for this bridge
}

// StatusLine formats the overlay for the status pane.
func (o Overlay) StatusLine() string {
	return fmt.Sprintf("Status: %s | Score: %.3f | Frame: %d", o.Status, o.Score, o.Seq)
}
