package boxlabel

// Normalized center/size label files: one file per image, one box per line.

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
)

// ParseYOLOLine parses one export line "<class_id> <x_center> <y_center> <width> <height>".
// The class id is not checked against a class table.
func ParseYOLOLine(line string) (NormalizedBox, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return NormalizedBox{}, fmt.Errorf("expected 5 fields, found %d in %q", len(tokens), line)
	}

	var b NormalizedBox
	id, err := parseClassID(tokens[0])
	if err != nil {
		return NormalizedBox{}, err
	}
	b.ClassID = id

	fields := []*float64{&b.XCenter, &b.YCenter, &b.Width, &b.Height}
	for i, f := range fields {
		v, err := strconv.ParseFloat(tokens[i+1], 64)
		if err != nil {
			return NormalizedBox{}, fmt.Errorf("unexpected value in %q: %v", line, err)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return NormalizedBox{}, fmt.Errorf("value %v out of range [0,1] in %q", v, line)
		}
		*f = v
	}

	return b, nil
}

// parseClassID accepts non-negative integers, also when written as an integral float ("3.0").
func parseClassID(s string) (int, error) {
	if id, err := strconv.Atoi(s); err == nil {
		if id < 0 {
			return 0, fmt.Errorf("negative class id %d", id)
		}
		return id, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("invalid class id %q", s)
	}
	return int(v), nil
}

// ReadYOLO parses the label file at path. Lines that cannot be decoded, or that reference a class
// id beyond classes (when classes is not nil), are skipped and returned as *LineError values.
// Blank lines are ignored.
func ReadYOLO(path string, classes *ClassTable) ([]NormalizedBox, []error, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, nil, err
	}

	boxes := make([]NormalizedBox, 0, len(lines))
	var lineErrs []error
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b, err := ParseYOLOLine(line)
		if err == nil && classes != nil {
			_, err = classes.Name(b.ClassID)
		}
		if err != nil {
			lineErrs = append(lineErrs, &LineError{Path: path, Line: i + 1, Err: err})
			continue
		}
		boxes = append(boxes, b)
	}

	return boxes, lineErrs, nil
}

// WriteYOLO writes boxes to the file at path, one line per box.
func WriteYOLO(path string, boxes []NormalizedBox) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(file, &err)

	w := bufio.NewWriter(file)
	for _, b := range boxes {
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ExportOptions configures Export.
type ExportOptions struct {
	Canvas Canvas // The display surface the records were drawn on.

	// AssumeCanvasSize substitutes the canvas size for unknown original dimensions instead of
	// failing the record with ErrMissingDimensions.
	AssumeCanvasSize bool
}

// ExportResult summarises an export run.
type ExportResult struct {
	Files   int // Label files written.
	Boxes   int // Boxes written.
	Skipped int // Annotation sets that could not be exported.

	// SkippedBoxes counts records left out of an exported set, such as boxes drawn entirely
	// outside the canvas.
	SkippedBoxes int

	Errors []error
}

// ToNormalized converts the records of set, assigning class ids through classes. Records without
// area in the image after clamping to the canvas are left out and returned as errors matching
// ErrDegenerateBox; any other failure fails the whole set.
func ToNormalized(set AnnotationSet, opts ExportOptions, classes *ClassTable) (
	[]NormalizedBox, []error, error) {

	width, height := set.OriginalWidth, set.OriginalHeight
	if !set.HasDimensions() {
		if !opts.AssumeCanvasSize {
			return nil, nil, errors.Wrapf(ErrMissingDimensions, "image %q", set.ImageFile)
		}
		width, height = opts.Canvas.Width, opts.Canvas.Height
	}

	boxes := make([]NormalizedBox, 0, len(set.Annotations))
	var recordErrs []error
	for _, a := range set.Annotations {
		b, err := opts.Canvas.Normalize(a, width, height, classes)
		if errors.Is(err, ErrDegenerateBox) {
			recordErrs = append(recordErrs, errors.Wrapf(err, "image %q", set.ImageFile))
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "image %q", set.ImageFile)
		}
		boxes = append(boxes, b)
	}
	return boxes, recordErrs, nil
}

// Export writes one label file per annotation set to labelDir and the class manifest to
// labelDir/classes.txt. Ids are assigned through classes, which may already hold the ids of a
// previous run.
//
// A set that cannot be converted is logged and skipped, as is a single record without area in
// the image. Sets and records fail before their labels are assigned ids, so skipped ones do not
// add classes.
func Export(log logs.Log, sets []AnnotationSet, labelDir string, opts ExportOptions,
	classes *ClassTable) (ExportResult, error) {

	var res ExportResult
	if err := os.MkdirAll(labelDir, 0755); err != nil {
		return res, fmt.Errorf("cannot create directory %q: %v", labelDir, err)
	}
	log.Infof("Exporting labels for %d images", len(sets))

	for _, set := range sets {
		boxes, recordErrs, err := ToNormalized(set, opts, classes)
		if err != nil {
			log.Warnf("Cannot export, skipping %q: %v", set.ImageFile, err)
			res.Skipped++
			res.Errors = append(res.Errors, err)
			continue
		}
		for _, e := range recordErrs {
			log.Warnf("Skipping annotation: %v", e)
		}
		res.SkippedBoxes += len(recordErrs)
		res.Errors = append(res.Errors, recordErrs...)

		path := filepath.Join(labelDir, set.LabelFileName())
		if err := WriteYOLO(path, boxes); err != nil {
			return res, fmt.Errorf("failed to write %q: %v", path, err)
		}
		res.Files++
		res.Boxes += len(boxes)
	}

	classesPath := filepath.Join(labelDir, ClassesFileName)
	if err := classes.Save(classesPath); err != nil {
		return res, err
	}

	log.Infof("Wrote %d boxes in %d label files and %d classes to %s (%d sets, %d boxes skipped)",
		res.Boxes, res.Files, classes.Len(), labelDir, res.Skipped, res.SkippedBoxes)
	return res, nil
}
