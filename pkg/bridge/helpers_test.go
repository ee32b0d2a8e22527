package bridge

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-inspect/internal/log"
)

// helperModeEnv selects the fake worker behaviour when the test binary is
// re-executed as the inference process.
const helperModeEnv = "GO_INSPECT_HELPER_MODE"

// TestHelperProcess is not a real test. It stands in for the Python worker.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		return
	}
	runFakeWorker(mode)
	os.Exit(0)
}

func runFakeWorker(mode string) {
	enc := json.NewEncoder(os.Stdout)

	switch mode {
	case "echo":
		fmt.Println("running")
		fmt.Fprintln(os.Stderr, "worker ready")
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			path := strings.TrimSpace(sc.Text())
			if path == "exit" {
				return
			}
			data, err := os.ReadFile(path)
			if err != nil {
				enc.Encode(map[string]any{"error": "Could not read image"})
				continue
			}
			var seq int
			fmt.Sscanf(filepath.Base(path), "frame-%d-", &seq)
			enc.Encode(map[string]any{
				"status":  fmt.Sprintf("frame-%d", seq),
				"score":   0.5,
				"overlay": base64.StdEncoding.EncodeToString(data),
			})
		}

	case "framed":
		fmt.Println("running")
		if os.Getenv(TransferEnv) != TransferFramed {
			enc.Encode(map[string]any{"error": "transfer env not set"})
		}
		for {
			req, err := ReadFramed(os.Stdin)
			if err != nil {
				return
			}
			enc.Encode(map[string]any{
				"status":  fmt.Sprintf("frame-%d", req.Seq),
				"score":   0.5,
				"overlay": base64.StdEncoding.EncodeToString(req.JPEG),
				"id":      req.ID,
			})
		}

	case "crash":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)

	case "stubborn":
		time.Sleep(time.Hour)
	}
}

func newHelperBridge(t *testing.T, sink Sink, mode string, opts ...Option) *Bridge {
	t.Helper()
	base := []Option{
		WithCommand(os.Args[0], "-test.run=^TestHelperProcess$"),
		WithEnv(helperModeEnv + "=" + mode),
		WithTempDir(t.TempDir()),
		WithLogger(log.Discard()),
	}
	if mode == "framed" {
		base = append(base, WithTransfer(TransferFramed))
	}
	b, err := New(sink, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

type logLine struct {
	tag Tag
	msg string
}

// recorder is a Sink that keeps everything it is given.
type recorder struct {
	mu       sync.Mutex
	overlays []Overlay
	logs     []logLine
}

func (r *recorder) ShowOverlay(o Overlay) {
	r.mu.Lock()
	r.overlays = append(r.overlays, o)
	r.mu.Unlock()
}

func (r *recorder) Log(tag Tag, msg string) {
	r.mu.Lock()
	r.logs = append(r.logs, logLine{tag, msg})
	r.mu.Unlock()
}

func (r *recorder) Overlays() []Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Overlay(nil), r.overlays...)
}

func (r *recorder) Logs(tag Tag) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, l := range r.logs {
		if l.tag == tag {
			out = append(out, l.msg)
		}
	}
	return out
}

func (r *recorder) HasLog(tag Tag, substr string) bool {
	for _, msg := range r.Logs(tag) {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type testImage struct {
	seq  uint64
	data []byte
}

func (i testImage) JPEG() ([]byte, error)   { return i.data, nil }
func (i testImage) Bounds() image.Rectangle { return image.Rect(0, 0, 4, 3) }
func (i testImage) Sequence() uint64        { return i.seq }

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(4, 3, color.RGBA{200, 40, 40, 255}), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, c)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
