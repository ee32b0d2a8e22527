package bridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"
)

// DecodeOverlay decodes the base64 overlay of r into an image.
// A "data:image/...;base64," prefix is accepted.
func DecodeOverlay(r Result) (Overlay, error) {
	if !r.HasOverlay() {
		return Overlay{}, fmt.Errorf("%w: empty payload", ErrOverlayDecode)
	}

	data, err := DecodeBase64(*r.Overlay)
	if err != nil {
		return Overlay{}, fmt.Errorf("%w: %v", ErrOverlayDecode, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Overlay{}, fmt.Errorf("%w: %v", ErrOverlayDecode, err)
	}

	return Overlay{
		Image:     img,
		Data:      data,
		Format:    format,
		Status:    r.StatusText(),
		Score:     r.ScoreValue(),
		RequestID: r.ID,
	}, nil
}

// DecodeBase64 decodes standard base64, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
