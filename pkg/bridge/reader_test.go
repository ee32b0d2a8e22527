package bridge

import (
	"encoding/base64"
	"image/color"
	"strings"
	"testing"

	"github.com/teslashibe/go-inspect/internal/log"
)

func newReaderBridge(t *testing.T, rec *recorder) *Bridge {
	t.Helper()
	b, err := New(rec, WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStdoutReaderKeepsGoing(t *testing.T) {
	first := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2, color.White))
	second := base64.StdEncoding.EncodeToString(pngBytes(t, 3, 3, color.Black))

	stream := strings.Join([]string{
		"running",
		"",
		"   ",
		"not json {",
		`{"status":"ok","score":0.9,"overlay":"` + first + `"}`,
		`{"status":"ok","score":0.25,"overlay":null}`,
		`{"error":"Could not read image"}`,
		`{"status":"bad","score":0.1,"overlay":"%%%%"}`,
		`{"status":"defect","score":0.75,"overlay":"` + second + `"}`,
	}, "\n")

	rec := &recorder{}
	b := newReaderBridge(t, rec)
	b.consumeStdout(strings.NewReader(stream))

	ovs := rec.Overlays()
	if len(ovs) != 2 {
		t.Fatalf("got %d overlays, want 2", len(ovs))
	}
	if ovs[0].Seq != 1 || ovs[1].Seq != 2 {
		t.Errorf("overlay seqs = %d, %d", ovs[0].Seq, ovs[1].Seq)
	}
	if ovs[1].Status != "defect" || ovs[1].Image.Bounds().Dx() != 3 {
		t.Errorf("second overlay = %+v", ovs[1])
	}

	if got := rec.Logs(TagStdout); len(got) != 2 || got[0] != "running" || got[1] != "not json {" {
		t.Errorf("stdout logs = %q", got)
	}

	wantStatus := []string{
		"Status: ok | Score: 0.900 | Frame: 1",
		"Status: ok | Score: 0.250",
		"Status: defect | Score: 0.750 | Frame: 2",
	}
	if got := rec.Logs(TagStatus); strings.Join(got, "\n") != strings.Join(wantStatus, "\n") {
		t.Errorf("status logs = %q, want %q", got, wantStatus)
	}

	if !rec.HasLog(TagError, "Could not read image") {
		t.Error("worker error not logged")
	}
	if !rec.HasLog(TagError, "overlay decode") {
		t.Error("overlay decode failure not logged")
	}

	s := b.Stats()
	if s.Results != 5 || s.Overlays != 2 || s.Malformed != 2 || s.DecodeFailures != 1 || s.WorkerErrors != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestOverlayNullOnlyLogsStatus(t *testing.T) {
	rec := &recorder{}
	b := newReaderBridge(t, rec)
	b.consumeStdout(strings.NewReader(`{"status":"ok","score":0.5,"overlay":null}` + "\n"))

	if n := len(rec.Overlays()); n != 0 {
		t.Errorf("got %d overlays, want 0", n)
	}
	if got := rec.Logs(TagStatus); len(got) != 1 || got[0] != "Status: ok | Score: 0.500" {
		t.Errorf("status logs = %q", got)
	}
}

func TestStdoutReaderSkipsOverlongLine(t *testing.T) {
	rec := &recorder{}
	b := newReaderBridge(t, rec)
	b.cfg.MaxLineBytes = 4096

	stream := strings.Repeat("x", 100_000) + "\n" + `{"status":"after","score":1}` + "\n"
	b.consumeStdout(strings.NewReader(stream))

	if !rec.HasLog(TagError, "discarded") {
		t.Error("overlong line not reported")
	}
	if got := rec.Logs(TagStatus); len(got) != 1 || got[0] != "Status: after | Score: 1.000" {
		t.Errorf("status logs = %q", got)
	}
}

func TestStderrReader(t *testing.T) {
	rec := &recorder{}
	b := newReaderBridge(t, rec)
	b.consumeStderr(strings.NewReader("Traceback (most recent call last):\r\n\n  \n  File \"infer.py\"\nValueError: bad"))

	want := []string{"Traceback (most recent call last):", `File "infer.py"`, "ValueError: bad"}
	got := rec.Logs(TagStderr)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("stderr logs = %q, want %q", got, want)
	}
	if len(rec.Logs(TagStatus)) != 0 {
		t.Error("stderr must never be parsed as results")
	}
	if b.Stats().StderrLines != 3 {
		t.Errorf("StderrLines = %d", b.Stats().StderrLines)
	}
}
