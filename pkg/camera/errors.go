package camera

import "errors"

var (
	// ErrNoCameraFound is returned when no capture device can be opened.
	ErrNoCameraFound = errors.New("camera: no camera found")

	// ErrReadFailed is returned by Run when the device stops delivering frames.
	ErrReadFailed = errors.New("camera: too many failed reads")

	// ErrInvalidConfig wraps Validate problems.
	ErrInvalidConfig = errors.New("camera: invalid config")
)
