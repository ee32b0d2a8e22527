package bridge

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/color"
	"testing"
)

func strp(s string) *string    { return &s }
func fltp(f float64) *float64 { return &f }

func TestDecodeOverlayRoundTrip(t *testing.T) {
	want := pngBytes(t, 6, 2, color.RGBA{10, 200, 30, 255})

	encodings := map[string]string{
		"padded":   base64.StdEncoding.EncodeToString(want),
		"raw":      base64.RawStdEncoding.EncodeToString(want),
		"data uri": "data:image/png;base64," + base64.StdEncoding.EncodeToString(want),
	}

	for name, payload := range encodings {
		t.Run(name, func(t *testing.T) {
			ov, err := DecodeOverlay(Result{Status: strp("ok"), Score: fltp(0.42), Overlay: strp(payload), ID: "abc"})
			if err != nil {
				t.Fatalf("DecodeOverlay: %v", err)
			}
			if !bytes.Equal(ov.Data, want) {
				t.Error("decoded bytes differ from the encoded image")
			}
			if ov.Format != "png" {
				t.Errorf("Format = %q, want png", ov.Format)
			}
			if b := ov.Image.Bounds(); b.Dx() != 6 || b.Dy() != 2 {
				t.Errorf("Bounds = %v, want 6x2", b)
			}
			r, g, b, _ := ov.Image.At(3, 1).RGBA()
			if r>>8 != 10 || g>>8 != 200 || b>>8 != 30 {
				t.Errorf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
			}
			if ov.Status != "ok" || ov.Score != 0.42 || ov.RequestID != "abc" {
				t.Errorf("annotations = %q %v %q", ov.Status, ov.Score, ov.RequestID)
			}
		})
	}
}

func TestDecodeOverlayErrors(t *testing.T) {
	tests := []struct {
		name    string
		overlay *string
	}{
		{"absent", nil},
		{"empty", strp("")},
		{"not base64", strp("!!!not-base64!!!")},
		{"not an image", strp(base64.StdEncoding.EncodeToString([]byte("plain text")))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeOverlay(Result{Overlay: tc.overlay})
			if !errors.Is(err, ErrOverlayDecode) {
				t.Errorf("err = %v, want ErrOverlayDecode", err)
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		malformed bool
		known     bool
		overlay   bool
		errMsg    string
	}{
		{name: "overlay null", line: `{"status":"ok","score":0.5,"overlay":null}`, known: true},
		{name: "overlay", line: `{"status":"ok","score":0.5,"overlay":"AAAA"}`, known: true, overlay: true},
		{name: "worker error", line: `{"error":"Could not read image"}`, known: true, errMsg: "Could not read image"},
		{name: "unrelated object", line: `{"hello":1}`},
		{name: "banner", line: `running`, malformed: true},
		{name: "json null", line: `null`, malformed: true},
		{name: "array", line: `[1,2]`, malformed: true},
		{name: "truncated", line: `{"status":"ok"`, malformed: true},
		{name: "wrong type", line: `{"score":"high"}`, malformed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseResult([]byte(tc.line))
			if tc.malformed {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult: %v", err)
			}
			if r.Known() != tc.known {
				t.Errorf("Known = %v, want %v", r.Known(), tc.known)
			}
			if r.HasOverlay() != tc.overlay {
				t.Errorf("HasOverlay = %v, want %v", r.HasOverlay(), tc.overlay)
			}
			if r.Error != tc.errMsg {
				t.Errorf("Error = %q, want %q", r.Error, tc.errMsg)
			}
		})
	}
}

func TestStatusLines(t *testing.T) {
	r := Result{Status: strp("ok"), Score: fltp(0.5)}
	if got, want := r.StatusLine(), "Status: ok | Score: 0.500"; got != want {
		t.Errorf("Result.StatusLine = %q, want %q", got, want)
	}

	o := Overlay{Status: "defect", Score: 0.12345, Seq: 7}
	if got, want := o.StatusLine(), "Status: defect | Score: 0.123 | Frame: 7"; got != want {
		t.Errorf("Overlay.StatusLine = %q, want %q", got, want)
	}
}
