package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrSubprocessUnavailable is returned when a frame is submitted while the
	// inference process is not running. The frame is dropped.
	ErrSubprocessUnavailable = errors.New("bridge: inference process not running")

	// ErrSubprocessWriteFailure is wrapped by WriteError.
	ErrSubprocessWriteFailure = errors.New("bridge: write to inference process failed")

	// ErrWriteStalled marks a write that was still blocked after WriteTimeout,
	// on pipes without deadline support. The process is killed.
	ErrWriteStalled = errors.New("bridge: write to inference process stalled")

	// ErrBusy is returned when another submission is still writing. The frame is dropped.
	ErrBusy = errors.New("bridge: previous submission still in flight")

	// ErrAlreadyRunning is returned by Start while a process is running.
	ErrAlreadyRunning = errors.New("bridge: already running")

	// ErrMalformedResponse marks a stdout line that is not a JSON object.
	ErrMalformedResponse = errors.New("bridge: malformed response")

	// ErrOverlayDecode marks an overlay payload that is not valid base64 or not an image.
	ErrOverlayDecode = errors.New("bridge: overlay decode failed")

	// ErrShutdownTermination marks a failure to kill or reap the process during Stop.
	// It is only ever logged.
	ErrShutdownTermination = errors.New("bridge: failed to terminate inference process")

	// ErrNoCommand is returned when no interpreter command is configured.
	ErrNoCommand = errors.New("bridge: command required")

	// ErrUnknownTransfer is returned for an unsupported transfer mode.
	ErrUnknownTransfer = errors.New("bridge: unknown transfer mode")
)

// WriteError reports a failed request write.
type WriteError struct {
	// RequestID identifies the dropped request.
	RequestID string

	// Partial is true when some bytes reached the pipe before the failure.
	Partial bool

	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	if e.Partial {
		return fmt.Sprintf("bridge: partial write of request %s: %v", e.RequestID, e.Err)
	}
	return fmt.Sprintf("bridge: write of request %s failed: %v", e.RequestID, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSubprocessWriteFailure) hold for every WriteError.
func (e *WriteError) Is(target error) bool {
	return target == ErrSubprocessWriteFailure
}
