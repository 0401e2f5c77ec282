package boxlabel

// Conversion between display-space rectangles, original-space pixel boxes and normalized boxes.

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Canvas is the fixed-size display surface the annotator draws on. Images are shown resized
// to exactly this size, ignoring their aspect ratio.
type Canvas struct {
	Width  int
	Height int
}

// DefaultCanvas is the 600x400 display surface of the labeling tool.
var DefaultCanvas = Canvas{Width: 600, Height: 400}

// Capture validates a completed drag-and-label gesture. The rectangle is clamped to the canvas
// and must have a non-zero area after clamping; the label is trimmed and must not be empty.
// The corner order of the drawn rectangle is kept.
func (c Canvas) Capture(r Rect, label string) (LabelRecord, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return LabelRecord{}, ErrEmptyLabel
	}

	r = c.clamp(r)
	if r.Empty() {
		return LabelRecord{}, errors.Wrapf(ErrDegenerateBox, "(%g,%g)-(%g,%g)", r.X1, r.Y1, r.X2, r.Y2)
	}

	return LabelRecord{Rect: r, Label: label}, nil
}

// clamp limits the corners of r to the canvas, keeping their order.
func (c Canvas) clamp(r Rect) Rect {
	limit := func(v float64, max int) float64 {
		return math.Min(math.Max(v, 0), float64(max))
	}
	return Rect{
		X1: limit(r.X1, c.Width),
		Y1: limit(r.Y1, c.Height),
		X2: limit(r.X2, c.Width),
		Y2: limit(r.Y2, c.Height),
	}
}

// ToOriginal rectifies r, clamps it to the canvas and scales it from display space to the
// original image space of an origWidth x origHeight image. Scaled coordinates are truncated
// toward zero, so the result lies within the image.
func (c Canvas) ToOriginal(r Rect, origWidth, origHeight int) image.Rectangle {
	r = c.clamp(r.Rectify())
	sx := func(v float64) int {
		return int(v * float64(origWidth) / float64(c.Width))
	}
	sy := func(v float64) int {
		return int(v * float64(origHeight) / float64(c.Height))
	}
	// Built literally: image.Rect would canonicalise the corners.
	return image.Rectangle{
		Min: image.Point{X: sx(r.X1), Y: sy(r.Y1)},
		Max: image.Point{X: sx(r.X2), Y: sy(r.Y2)},
	}
}

// Normalize converts a record into a normalized box relative to the original image size,
// resolving the class id through classes (a new id is assigned to an unseen label).
//
// Returns ErrMissingDimensions if either original dimension is unknown, and ErrDegenerateBox if
// the record has no area in the original image after clamping to the canvas. No class id is
// assigned in either case.
func (c Canvas) Normalize(rec LabelRecord, origWidth, origHeight int, classes *ClassTable) (
	NormalizedBox, error) {

	if origWidth <= 0 || origHeight <= 0 {
		return NormalizedBox{}, errors.Wrapf(ErrMissingDimensions, "size %dx%d", origWidth, origHeight)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return NormalizedBox{}, fmt.Errorf("invalid canvas size %dx%d", c.Width, c.Height)
	}

	r := c.ToOriginal(rec.Rect, origWidth, origHeight)
	if r.Empty() {
		return NormalizedBox{}, errors.Wrapf(ErrDegenerateBox, "%q at (%g,%g)-(%g,%g) is %v in the image",
			rec.Label, rec.Rect.X1, rec.Rect.Y1, rec.Rect.X2, rec.Rect.Y2, r)
	}
	box := NormalizeRect(r, origWidth, origHeight)
	box.ClassID = classes.ID(rec.Label)
	return box, nil
}

// NormalizedBox is the exported unit: a class id and a box given as fractions of the original
// image width and height.
type NormalizedBox struct {
	ClassID int
	XCenter float64
	YCenter float64
	Width   float64
	Height  float64
}

// String formats b as an export line, with six decimal digits per geometric field.
func (b NormalizedBox) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", b.ClassID, b.XCenter, b.YCenter, b.Width, b.Height)
}

// NormalizeRect expresses an original-space pixel box as center and size fractions of the image
// size. The class id of the result is zero.
func NormalizeRect(r image.Rectangle, width, height int) NormalizedBox {
	w := float64(width)
	h := float64(height)
	return NormalizedBox{
		XCenter: float64(r.Min.X+r.Max.X) / 2 / w,
		YCenter: float64(r.Min.Y+r.Max.Y) / 2 / h,
		Width:   float64(r.Max.X-r.Min.X) / w,
		Height:  float64(r.Max.Y-r.Min.Y) / h,
	}
}

// Denormalize converts b back to a pixel box in a width x height image. Coordinates are truncated
// toward zero.
func Denormalize(b NormalizedBox, width, height int) image.Rectangle {
	xc := b.XCenter * float64(width)
	yc := b.YCenter * float64(height)
	bw := b.Width * float64(width)
	bh := b.Height * float64(height)

	return image.Rectangle{
		Min: image.Point{X: int(xc - bw/2), Y: int(yc - bh/2)},
		Max: image.Point{X: int(xc + bw/2), Y: int(yc + bh/2)},
	}
}
