package bridge

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Request is one frame handed to the inference process.
type Request struct {
	ID     string
	Seq    uint64
	Width  int
	Height int
	JPEG   []byte
}

// Transfer turns a request into the bytes written to the process stdin.
// A Transfer is owned by a single bridge run and is not used concurrently.
type Transfer interface {
	// Open prepares per-run resources.
	Open() error

	// Prepare returns the stdin payload for req.
	Prepare(req Request) ([]byte, error)

	// ExitCommand returns the graceful stop command, or nil if closing stdin is the signal.
	ExitCommand() []byte

	// Framed reports whether a partial write desynchronises the stream.
	Framed() bool

	// Close releases per-run resources.
	Close() error
}

func newTransfer(cfg *Config) (Transfer, error) {
	switch cfg.Transfer {
	case TransferFile:
		return &FileTransfer{Parent: cfg.TempDir, Keep: cfg.KeepFiles}, nil
	case TransferFramed:
		return &FramedTransfer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransfer, cfg.Transfer)
	}
}

// FileTransfer writes each frame to its own JPEG file and sends the absolute
// path as a line. Files are renamed into place so the reader never sees a
// partial image.
type FileTransfer struct {
	Parent string // Parent directory (empty = os.TempDir)
	Keep   int    // Files retained for a slow reader

	dir    string
	recent []string
}

// Open creates the per-run frame directory.
func (t *FileTransfer) Open() error {
	dir, err := os.MkdirTemp(t.Parent, "inspect-frames-*")
	if err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	t.dir = dir
	t.recent = t.recent[:0]
	return nil
}

// Dir returns the frame directory of the current run.
func (t *FileTransfer) Dir() string {
	return t.dir
}

// Prepare writes the frame file and returns its path line.
func (t *FileTransfer) Prepare(req Request) ([]byte, error) {
	if t.dir == "" {
		return nil, fmt.Errorf("frame dir not open")
	}

	path := filepath.Join(t.dir, fmt.Sprintf("frame-%d-%s.jpg", req.Seq, req.ID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, req.JPEG, 0o600); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename frame: %w", err)
	}

	t.recent = append(t.recent, path)
	for len(t.recent) > t.Keep {
		os.Remove(t.recent[0])
		t.recent = t.recent[1:]
	}

	return []byte(path + "\n"), nil
}

// ExitCommand returns the line the worker loop stops on.
func (t *FileTransfer) ExitCommand() []byte {
	return []byte("exit\n")
}

// Framed returns false: a broken line only costs one request.
func (t *FileTransfer) Framed() bool { return false }

// Close removes the frame directory.
func (t *FileTransfer) Close() error {
	if t.dir == "" {
		return nil
	}
	err := os.RemoveAll(t.dir)
	t.dir = ""
	t.recent = nil
	return err
}

// framedRequest is the msgpack body of a framed request.
type framedRequest struct {
	ID     string `msgpack:"id"`
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Format string `msgpack:"format"`
	Data   []byte `msgpack:"data"`
}

// FramedTransfer sends each frame in-band: a 4-byte big-endian length
// followed by a msgpack map.
type FramedTransfer struct{}

// Open is a no-op.
func (FramedTransfer) Open() error { return nil }

// Prepare encodes req as one frame.
func (FramedTransfer) Prepare(req Request) ([]byte, error) {
	body, err := msgpack.Marshal(&framedRequest{
		ID:     req.ID,
		Seq:    req.Seq,
		Width:  req.Width,
		Height: req.Height,
		Format: "jpeg",
		Data:   req.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf, nil
}

// ExitCommand returns nil; EOF on stdin stops the worker.
func (FramedTransfer) ExitCommand() []byte { return nil }

// Framed returns true.
func (FramedTransfer) Framed() bool { return true }

// Close is a no-op.
func (FramedTransfer) Close() error { return nil }

// ReadFramed reads one framed request. Used by Go workers and tests.
func ReadFramed(r io.Reader) (Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Request{}, err
	}
	body := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return Request{}, err
	}

	var fr framedRequest
	if err := msgpack.Unmarshal(body, &fr); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return Request{ID: fr.ID, Seq: fr.Seq, Width: fr.Width, Height: fr.Height, JPEG: fr.Data}, nil
}
