// Package bridge runs an external inference process and exchanges frames and
// results with it over stdio.
//
// Frames go to the process stdin either as a path to a JPEG file followed by a
// newline, or in-band as length-prefixed msgpack records. The process answers
// with one JSON object per line on stdout: status, score and an optional base64
// overlay image. Stderr is forwarded to the log as diagnostics.
//
// A Bridge is NotStarted, Running or Stopped. Start spawns a fresh process from
// NotStarted or Stopped. Stop is idempotent and always leaves the Bridge
// Stopped with the process reaped or killed.
package bridge

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Image is a frame that can be handed to the inference process.
type Image interface {
	JPEG() ([]byte, error)
	Bounds() image.Rectangle
	Sequence() uint64
}

// Sink receives decoded overlays and log lines. Implementations must be safe
// to call from any goroutine.
type Sink interface {
	ShowOverlay(o Overlay)
	Log(tag Tag, msg string)
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	State          string `json:"state"`
	PID            int    `json:"pid,omitempty"`
	Starts         uint64 `json:"starts"`
	Submitted      uint64 `json:"submitted"`
	Dropped        uint64 `json:"dropped"`
	WriteFailures  uint64 `json:"write_failures"`
	Results        uint64 `json:"results"`
	Overlays       uint64 `json:"overlays"`
	Malformed      uint64 `json:"malformed"`
	DecodeFailures uint64 `json:"decode_failures"`
	WorkerErrors   uint64 `json:"worker_errors"`
	StderrLines    uint64 `json:"stderr_lines"`
}

// stallMargin is added to WriteTimeout before a blocked write is given up.
// Pipes with deadline support fail on their own before it expires.
const stallMargin = 100 * time.Millisecond

// run is one spawned process and the goroutines serving it.
type run struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	transfer Transfer
	readers  sync.WaitGroup
	done     chan struct{}
	stopping atomic.Bool
	broken   atomic.Bool
}

// Bridge owns the inference process.
type Bridge struct {
	cfg    *Config
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex // Serialises Start and Stop
	writeMu sync.Mutex // Held for the duration of one request write
	state   atomic.Int32
	cur     atomic.Pointer[run]

	// wrapStdin lets tests put a writer between the bridge and the pipe.
	wrapStdin func(io.WriteCloser) io.WriteCloser

	overlaySeq   atomic.Uint64
	unavailable  atomic.Bool
	noDeadline   atomic.Bool
	starts       atomic.Uint64
	submitted    atomic.Uint64
	dropped      atomic.Uint64
	writeFails   atomic.Uint64
	results      atomic.Uint64
	overlays     atomic.Uint64
	malformed    atomic.Uint64
	decodeFails  atomic.Uint64
	workerErrors atomic.Uint64
	stderrLines  atomic.Uint64
}

// New creates a Bridge in the NotStarted state. No process is spawned.
func New(sink Sink, opts ...Option) (*Bridge, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Bridge{
		cfg:    cfg,
		sink:   sink,
		logger: cfg.Logger.With("component", "bridge"),
	}, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Config returns a copy of the bridge configuration.
func (b *Bridge) Config() Config {
	return *b.cfg
}

// Start spawns the inference process. Cancelling ctx stops it.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateRunning {
		return ErrAlreadyRunning
	}

	tr, err := newTransfer(b.cfg)
	if err != nil {
		return err
	}
	if err := tr.Open(); err != nil {
		return err
	}

	cmd := exec.Command(b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = append(os.Environ(), TransferEnv+"="+b.cfg.Transfer)
	cmd.Env = append(cmd.Env, b.cfg.Env...)
	hideWindow(cmd)

	// os.Pipe instead of StdinPipe so writes can carry a deadline.
	pr, pw, err := os.Pipe()
	if err != nil {
		tr.Close()
		return err
	}
	cmd.Stdin = pr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		tr.Close()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		pr.Close()
		pw.Close()
		tr.Close()
		return err
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		tr.Close()
		b.logger.Error("failed to start inference process", "command", b.cfg.Command, "error", err)
		b.sink.Log(TagError, "failed to start inference process: "+err.Error())
		return err
	}
	pr.Close()

	var stdin io.WriteCloser = pw
	if b.wrapStdin != nil {
		stdin = b.wrapStdin(pw)
	}

	r := &run{
		cmd:      cmd,
		stdin:    stdin,
		transfer: tr,
		done:     make(chan struct{}),
	}
	b.cur.Store(r)
	b.unavailable.Store(false)
	b.starts.Add(1)
	b.state.Store(int32(StateRunning))

	r.readers.Add(2)
	go b.readStdout(r, stdout)
	go b.readStderr(r, stderr)
	go b.wait(r)

	go func() {
		select {
		case <-ctx.Done():
			b.Stop()
		case <-r.done:
		}
	}()

	b.logger.Info("inference process started",
		"pid", cmd.Process.Pid,
		"command", b.cfg.Command,
		"args", b.cfg.Args,
		"transfer", b.cfg.Transfer,
	)
	b.sink.Log(TagInfo, "inference process started")
	return nil
}

// Restart stops the current process, if any, and starts a new one.
func (b *Bridge) Restart(ctx context.Context) error {
	b.Stop()
	return b.Start(ctx)
}

// Done returns a channel closed when the current process has exited.
// Before the first Start the channel is already closed.
func (b *Bridge) Done() <-chan struct{} {
	if r := b.cur.Load(); r != nil {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Submit sends one frame to the inference process. It never blocks longer
// than the write timeout. Errors mean the frame was dropped; none are fatal.
func (b *Bridge) Submit(img Image) error {
	if !b.writeMu.TryLock() {
		b.dropped.Add(1)
		return ErrBusy
	}

	r := b.cur.Load()
	if r == nil || b.State() != StateRunning || r.broken.Load() || r.stopping.Load() {
		b.writeMu.Unlock()
		b.dropped.Add(1)
		if !b.unavailable.Swap(true) {
			b.logger.Error("inference process not running, dropping frames")
			b.sink.Log(TagError, "inference process not running, frame dropped")
		}
		return ErrSubprocessUnavailable
	}

	data, err := img.JPEG()
	if err != nil {
		b.writeMu.Unlock()
		b.dropped.Add(1)
		b.logger.Warn("frame encode failed", "error", err)
		return err
	}

	bounds := img.Bounds()
	req := Request{
		ID:     uuid.NewString(),
		Seq:    img.Sequence(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		JPEG:   data,
	}

	payload, err := r.transfer.Prepare(req)
	if err != nil {
		b.writeMu.Unlock()
		return b.writeFailed(r, &WriteError{RequestID: req.ID, Err: err})
	}

	n, err := b.writeAndUnlock(r, payload)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrClosed):
		b.dropped.Add(1)
		return ErrSubprocessUnavailable
	default:
		return b.writeFailed(r, &WriteError{RequestID: req.ID, Partial: n > 0, Err: err})
	}

	b.submitted.Add(1)
	b.logger.Debug("frame submitted", "request_id", req.ID, "seq", req.Seq, "bytes", len(data))
	return nil
}

type writeResult struct {
	n   int
	err error
}

// writeAndUnlock writes payload to the process stdin. The caller holds
// writeMu; it is released as soon as the write returns. A write still blocked
// after WriteTimeout plus stallMargin returns ErrWriteStalled and keeps
// writeMu until the process is killed and the pipe breaks.
func (b *Bridge) writeAndUnlock(r *run, payload []byte) (int, error) {
	b.setWriteDeadline(r)

	res := make(chan writeResult, 1)
	go func() {
		n, err := r.stdin.Write(payload)
		b.writeMu.Unlock()
		res <- writeResult{n, err}
	}()

	timer := time.NewTimer(b.cfg.WriteTimeout + stallMargin)
	defer timer.Stop()

	select {
	case wr := <-res:
		return wr.n, wr.err
	case <-timer.C:
		return 0, ErrWriteStalled
	}
}

// setWriteDeadline bounds the next write at the pipe. Windows pipes have no
// deadlines; there only the stall timer in writeAndUnlock applies.
func (b *Bridge) setWriteDeadline(r *run) {
	err := os.ErrNoDeadline
	if d, ok := r.stdin.(interface{ SetWriteDeadline(time.Time) error }); ok {
		err = d.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	if err != nil && !b.noDeadline.Swap(true) {
		b.logger.Warn("stdin write deadline unavailable, stalled writes kill the process", "error", err)
	}
}

// lockWriter waits up to timeout for writeMu.
func (b *Bridge) lockWriter(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.writeMu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// writeFailed records a failed write. A partial framed record leaves the
// stream unreadable and a stalled write never returns, so in both cases that
// process is killed.
func (b *Bridge) writeFailed(r *run, werr *WriteError) error {
	b.dropped.Add(1)
	b.writeFails.Add(1)
	b.logger.Warn("request write failed", "request_id", werr.RequestID, "partial", werr.Partial, "error", werr.Err)
	b.sink.Log(TagError, werr.Error())

	stalled := errors.Is(werr.Err, ErrWriteStalled)
	if (stalled || werr.Partial && r.transfer.Framed()) && !r.broken.Swap(true) {
		b.logger.Error("request stream unusable, killing inference process", "pid", r.cmd.Process.Pid, "stalled", stalled)
		b.sink.Log(TagError, "inference process stopped reading requests, restart it")
		r.cmd.Process.Kill()
	}
	return werr
}

// Stop shuts the process down: exit command, close stdin, grace period,
// kill, bounded wait. Safe to call any number of times from any goroutine.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.cur.Load()
	if r == nil {
		b.state.CompareAndSwap(int32(StateNotStarted), int32(StateStopped))
		return
	}

	select {
	case <-r.done:
		return
	default:
	}

	r.stopping.Store(true)
	pid := r.cmd.Process.Pid

	// A write still holding writeMu after stallMargin is stuck on a process
	// that stopped reading; killing it breaks the pipe and releases the writer.
	locked := b.lockWriter(stallMargin)
	if !locked {
		b.logger.Warn("request write in flight at stop, killing inference process", "pid", pid)
		r.cmd.Process.Kill()
		locked = b.lockWriter(b.cfg.KillTimeout)
	}
	if locked {
		if cmd := r.transfer.ExitCommand(); cmd != nil {
			if _, err := b.writeAndUnlock(r, cmd); err != nil {
				b.logger.Debug("exit command not delivered", "pid", pid, "error", err)
			}
		} else {
			b.writeMu.Unlock()
		}
	}
	r.stdin.Close()

	if b.cfg.GracePeriod > 0 {
		select {
		case <-r.done:
			b.logger.Info("inference process stopped", "pid", pid)
			return
		case <-time.After(b.cfg.GracePeriod):
		}
	}

	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		b.logger.Error("kill inference process", "pid", pid, "error", errors.Join(ErrShutdownTermination, err))
	}

	select {
	case <-r.done:
		b.logger.Info("inference process killed", "pid", pid)
	case <-time.After(b.cfg.KillTimeout):
		b.state.Store(int32(StateStopped))
		b.logger.Error("inference process did not exit", "pid", pid, "error", ErrShutdownTermination)
		b.sink.Log(TagError, ErrShutdownTermination.Error())
	}
}

// wait reaps the process once both output streams are drained.
func (b *Bridge) wait(r *run) {
	r.readers.Wait()
	err := r.cmd.Wait()

	locked := b.lockWriter(b.cfg.KillTimeout)
	r.stdin.Close()
	if cerr := r.transfer.Close(); cerr != nil {
		b.logger.Warn("remove frame files", "error", cerr)
	}
	if locked {
		b.writeMu.Unlock()
	}

	if b.cur.Load() == r {
		b.state.Store(int32(StateStopped))
	}
	close(r.done)

	code := r.cmd.ProcessState.ExitCode()
	if r.stopping.Load() {
		b.logger.Debug("inference process exited", "exit_code", code)
		b.sink.Log(TagInfo, "inference process stopped")
		return
	}
	b.logger.Error("inference process exited unexpectedly", "exit_code", code, "error", err)
	b.sink.Log(TagError, "inference process exited unexpectedly")
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	s := Stats{
		State:          b.State().String(),
		Starts:         b.starts.Load(),
		Submitted:      b.submitted.Load(),
		Dropped:        b.dropped.Load(),
		WriteFailures:  b.writeFails.Load(),
		Results:        b.results.Load(),
		Overlays:       b.overlays.Load(),
		Malformed:      b.malformed.Load(),
		DecodeFailures: b.decodeFails.Load(),
		WorkerErrors:   b.workerErrors.Load(),
		StderrLines:    b.stderrLines.Load(),
	}
	if r := b.cur.Load(); r != nil && b.State() == StateRunning {
		s.PID = r.cmd.Process.Pid
	}
	return s
}
