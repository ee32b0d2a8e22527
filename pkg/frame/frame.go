// Package frame holds the per-callback camera frame, the sampling policy that
// picks frames for inference and the center crop applied before display.
package frame

import (
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is used when a Frame is created without a quality.
const DefaultJPEGQuality = 90

// Frame is an owned bitmap for one camera callback.
// It is consumed by at most two sinks and then released with Close.
// Sinks must not keep the Mat; they clone or encode what they need.
type Frame struct {
	Mat  gocv.Mat
	Seq  uint64
	Time time.Time

	quality int

	once    sync.Once
	jpeg    []byte
	jpegErr error
}

// New wraps mat. The Frame takes ownership and closes mat in Close.
func New(mat gocv.Mat, seq uint64, quality int) *Frame {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Frame{Mat: mat, Seq: seq, Time: time.Now(), quality: quality}
}

// Bounds returns the frame rectangle in pixels.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Mat.Cols(), f.Mat.Rows())
}

// Sequence returns the camera delivery number.
func (f *Frame) Sequence() uint64 {
	return f.Seq
}

// JPEG encodes the frame once and returns the cached bytes on later calls.
func (f *Frame) JPEG() ([]byte, error) {
	f.once.Do(func() {
		if f.Mat.Empty() {
			f.jpegErr = fmt.Errorf("%w: empty mat", ErrInvalidFrame)
			return
		}
		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{gocv.IMWriteJpegQuality, f.quality})
		if err != nil {
			f.jpegErr = fmt.Errorf("encode jpeg: %w", err)
			return
		}
		defer buf.Close()
		// GetBytes aliases native memory; copy before the buffer is freed.
		f.jpeg = append([]byte(nil), buf.GetBytes()...)
	})
	return f.jpeg, f.jpegErr
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}
