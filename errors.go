package boxlabel

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds reported by the annotation pipeline. Callers match them with errors.Is; none of
// them is fatal to a batch.
var (
	// ErrMissingDimensions is returned when the original image size of a record is unknown.
	ErrMissingDimensions = errors.New("original image dimensions unknown")
	// ErrDegenerateBox is returned for zero-area rectangles.
	ErrDegenerateBox = errors.New("degenerate bounding box")
	// ErrEmptyLabel is returned when a rectangle is captured without a class name.
	ErrEmptyLabel = errors.New("empty label")
	// ErrUnknownClassID is returned when a class id is not in the class table.
	ErrUnknownClassID = errors.New("unknown class id")
	// ErrMalformedAnnotation is returned for annotation lines that cannot be decoded.
	ErrMalformedAnnotation = errors.New("malformed annotation")
	// ErrMissingAnnotationFile is reported for images without a label file.
	ErrMissingAnnotationFile = errors.New("missing annotation file")
)

// LineError describes a failure to decode one line of an annotation file.
type LineError struct {
	Path string // The annotation file.
	Line int    // 1-based line number.
	Err  error  // The cause.
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %v", e.Path, e.Line, ErrMalformedAnnotation, e.Err)
}

// Unwrap returns the cause, so that a class id beyond the table also matches ErrUnknownClassID.
func (e *LineError) Unwrap() error {
	return e.Err
}

// Is reports every LineError as ErrMalformedAnnotation.
func (e *LineError) Is(target error) bool {
	return target == ErrMalformedAnnotation
}
