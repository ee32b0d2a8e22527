package frame

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// AspectOf returns width/height of a display surface.
func AspectOf(width, height int) float64 {
	if height <= 0 {
		return 0
	}
	return float64(width) / float64(height)
}

// CropRect computes the largest rectangle with the destination aspect ratio
// that fits inside a width x height frame, centered.
//
// A relatively wider source keeps its full height, otherwise the full width
// is kept. Float dimensions are truncated toward zero so callers can assert
// exact pixel rectangles.
func CropRect(width, height int, aspect float64) (image.Rectangle, error) {
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		return image.Rectangle{}, fmt.Errorf("%w: destination aspect ratio %v", ErrInvalidConfiguration, aspect)
	}
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: source is %dx%d", ErrInvalidFrame, width, height)
	}

	cropW, cropH := width, height
	if float64(width)/float64(height) > aspect {
		cropW = int(float64(height) * aspect)
	} else {
		cropH = int(float64(width) / aspect)
	}

	// Extreme ratios can truncate to zero; keep at least one pixel.
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}

	x := (width - cropW) / 2
	y := (height - cropH) / 2
	return image.Rect(x, y, x+cropW, y+cropH), nil
}

// Crop returns a new Mat holding the centered crop of src. The result owns
// its pixels and must be closed by the caller; src is left untouched.
func Crop(src gocv.Mat, aspect float64) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty mat", ErrInvalidFrame)
	}

	rect, err := CropRect(src.Cols(), src.Rows(), aspect)
	if err != nil {
		return gocv.NewMat(), err
	}

	region := src.Region(rect)
	defer region.Close()
	return region.Clone(), nil
}
