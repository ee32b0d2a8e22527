package bridge

import (
	"fmt"
	"log/slog"
	"time"
)

// Transfer modes.
const (
	// TransferFile writes each frame to its own temp file and sends the path as a line.
	TransferFile = "file"

	// TransferFramed sends each frame in-band as a length-prefixed msgpack record.
	TransferFramed = "framed"
)

// TransferEnv is set in the worker environment to the transfer mode.
const TransferEnv = "INSPECT_TRANSFER"

// Config holds bridge configuration.
type Config struct {
	// Process
	Command string   // Interpreter, e.g. "python"
	Args    []string // Arguments, e.g. "-u", "infer.py"
	Dir     string   // Working directory (empty = current)
	Env     []string // Extra KEY=VALUE pairs appended to the parent environment

	// Request handoff
	Transfer  string // TransferFile or TransferFramed
	TempDir   string // Parent of the per-run frame directory (empty = os.TempDir)
	KeepFiles int    // Frame files kept on disk for a slow reader

	// Timeouts
	WriteTimeout time.Duration // Bound on a single request write
	GracePeriod  time.Duration // Wait after exit command before killing
	KillTimeout  time.Duration // Wait after kill before giving up

	// MaxLineBytes caps one stdout line (overlays are base64 images).
	MaxLineBytes int

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the bridge.
type Option func(*Config)

// WithCommand sets the interpreter and its arguments.
func WithCommand(name string, args ...string) Option {
	return func(c *Config) {
		c.Command = name
		c.Args = args
	}
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) Option {
	return func(c *Config) { c.Env = append(c.Env, env...) }
}

// WithTransfer selects TransferFile or TransferFramed.
func WithTransfer(mode string) Option {
	return func(c *Config) { c.Transfer = mode }
}

// WithTempDir sets where frame files are written.
func WithTempDir(dir string) Option {
	return func(c *Config) { c.TempDir = dir }
}

// WithWriteTimeout bounds a single request write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.WriteTimeout = d }
}

// WithShutdown sets the grace period before kill and the wait after kill.
func WithShutdown(grace, kill time.Duration) Option {
	return func(c *Config) {
		c.GracePeriod = grace
		c.KillTimeout = kill
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the settings the station ships with.
func DefaultConfig() *Config {
	return &Config{
		Command:      "python",
		Args:         []string{"-u", "infer.py"},
		Transfer:     TransferFile,
		KeepFiles:    8,
		WriteTimeout: 250 * time.Millisecond,
		GracePeriod:  time.Second,
		KillTimeout:  2 * time.Second,
		MaxLineBytes: 64 * 1024 * 1024,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Command == "" {
		return ErrNoCommand
	}
	switch c.Transfer {
	case TransferFile, TransferFramed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransfer, c.Transfer)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("bridge: write timeout must be positive, got %v", c.WriteTimeout)
	}
	if c.GracePeriod < 0 || c.KillTimeout <= 0 {
		return fmt.Errorf("bridge: invalid shutdown timeouts grace=%v kill=%v", c.GracePeriod, c.KillTimeout)
	}
	if c.KeepFiles < 1 {
		c.KeepFiles = 1
	}
	if c.MaxLineBytes < 4096 {
		c.MaxLineBytes = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
