package boxlabel

// The annotation records produced while labeling and consumed by the exporters.

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Rect is a rectangle in display space, as drawn. The corners are not ordered: a rectangle
// dragged right-to-left or bottom-up has X1 > X2 or Y1 > Y2.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Rectify returns r with X1 <= X2 and Y1 <= Y2.
func (r Rect) Rectify() Rect {
	return Rect{
		X1: math.Min(r.X1, r.X2),
		Y1: math.Min(r.Y1, r.Y2),
		X2: math.Max(r.X1, r.X2),
		Y2: math.Max(r.Y1, r.Y2),
	}
}

// Width is the absolute horizontal extent of r.
func (r Rect) Width() float64 {
	return math.Abs(r.X2 - r.X1)
}

// Height is the absolute vertical extent of r.
func (r Rect) Height() float64 {
	return math.Abs(r.Y2 - r.Y1)
}

// Empty reports whether r has zero area.
func (r Rect) Empty() bool {
	return r.Width() == 0 || r.Height() == 0
}

// LabelRecord is one user-drawn box with its class name.
type LabelRecord struct {
	Rect  Rect   // Display-space coordinates.
	Label string // Non-empty class name.
}

// AnnotationSet is the persisted form of one image's annotations.
type AnnotationSet struct {
	ImageID        string        // The source image path; the persistence key.
	ImageFile      string        // Generated unique file name in the output image store.
	OriginalWidth  int           // True pixel width, zero if unknown.
	OriginalHeight int           // True pixel height, zero if unknown.
	Annotations    []LabelRecord // Display-space records in drawing order.
}

// HasDimensions reports whether the original image size is known.
func (s AnnotationSet) HasDimensions() bool {
	return s.OriginalWidth > 0 && s.OriginalHeight > 0
}

// LabelFileName is the name of the export file for s: the image file name with a .txt
// extension.
func (s AnnotationSet) LabelFileName() string {
	return stem(s.ImageFile) + ".txt"
}

// Labels returns the class names of all records in drawing order.
func (s AnnotationSet) Labels() []string {
	labels := make([]string, len(s.Annotations))
	for i, a := range s.Annotations {
		labels[i] = a.Label
	}
	return labels
}

// GenerateImageFile returns a new unique file name for the image at sourcePath, keeping its
// extension so that the file type stays recognisable.
func GenerateImageFile(sourcePath string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(sourcePath))
}
