package frame

import "errors"

// Sentinel errors for frame preparation.
var (
	// ErrInvalidConfiguration is returned for a sampling interval below 1 or a
	// destination aspect ratio that is not a positive finite number.
	ErrInvalidConfiguration = errors.New("frame: invalid configuration")

	// ErrInvalidFrame is returned for zero-sized or empty source frames.
	ErrInvalidFrame = errors.New("frame: invalid frame")
)
