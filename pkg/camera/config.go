// Package camera opens a local capture device with gocv and delivers frames
// to a callback, one at a time, from a single read loop.
package camera

import "fmt"

// AutoDevice asks Open to pick a device with SelectDevice.
const AutoDevice = -1

// Limits accepted by Validate.
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 120
	MaxProbe     = 16
)

// Config holds capture settings.
type Config struct {
	Device    int `json:"device"`    // Index, or AutoDevice
	Width     int `json:"width"`     // Requested frame width
	Height    int `json:"height"`    // Requested frame height
	Framerate int `json:"framerate"` // Requested FPS
	Probe     int `json:"probe"`     // Device indices tried when discovering
	Quality   int `json:"quality"`   // JPEG quality for frames, 1-100

	// MaxReadFailures consecutive failed reads end Run with ErrReadFailed.
	MaxReadFailures int `json:"max_read_failures"`
}

// DefaultConfig returns 720p at 30 FPS on an automatically chosen device.
func DefaultConfig() Config {
	return Config{
		Device:          AutoDevice,
		Width:           1280,
		Height:          720,
		Framerate:       30,
		Probe:           4,
		Quality:         90,
		MaxReadFailures: 30,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.Device < AutoDevice {
		errs = append(errs, "device must be -1 (auto) or a device index")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errs = append(errs, fmt.Sprintf("width must be between 160 and %d", MaxWidth))
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errs = append(errs, fmt.Sprintf("height must be between 120 and %d", MaxHeight))
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errs = append(errs, fmt.Sprintf("framerate must be between 1 and %d", MaxFramerate))
	}
	if c.Probe < 1 || c.Probe > MaxProbe {
		errs = append(errs, fmt.Sprintf("probe must be between 1 and %d", MaxProbe))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, "quality must be between 1 and 100")
	}
	if c.MaxReadFailures < 1 {
		errs = append(errs, "max_read_failures must be at least 1")
	}

	return errs
}
