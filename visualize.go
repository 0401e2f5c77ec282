package boxlabel

// Decoding exported label files back to pixel rectangles for visual inspection.

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
)

// DecodedBox is an exported box mapped back to original image pixels.
type DecodedBox struct {
	Box   NormalizedBox
	Rect  image.Rectangle // Pixel rectangle in the original image.
	Label string
}

// DecodeAnnotations reads the label file at path and maps every box into a width x height
// image. Malformed lines and lines with a class id beyond classes are skipped and reported as
// *LineError values. classes is required to name the boxes.
func DecodeAnnotations(path string, width, height int, classes *ClassTable) (
	[]DecodedBox, []error, error) {

	if classes == nil {
		return nil, nil, fmt.Errorf("decoding %q needs a class table", path)
	}
	boxes, lineErrs, err := ReadYOLO(path, classes)
	if err != nil {
		return nil, nil, err
	}

	decoded := make([]DecodedBox, 0, len(boxes))
	for _, b := range boxes {
		name, err := classes.Name(b.ClassID)
		if err != nil {
			// ReadYOLO already rejected ids beyond the table.
			return nil, nil, err
		}
		decoded = append(decoded, DecodedBox{
			Box:   b,
			Rect:  Denormalize(b, width, height),
			Label: name,
		})
	}
	return decoded, lineErrs, nil
}

// RenderAnnotations returns a copy of img with the decoded boxes and their class names drawn on
// it.
func RenderAnnotations(img image.Image, boxes []DecodedBox) *image.NRGBA {
	out := imaging.Clone(img)
	for _, b := range boxes {
		drawRect(out, b.Rect, boxColor, 2)
	}
	// Labels go on top so that overlapping rectangles do not hide them.
	for _, b := range boxes {
		drawLabel(out, b.Rect.Canon().Min, b.Label, boxColor)
	}
	return out
}

// VisualizeResult summarises a Visualize run.
type VisualizeResult struct {
	Rendered       int // Images written.
	MissingLabels  int // Images without a label file.
	FailedImages   int // Images that could not be read or written.
	MalformedLines int // Label lines that were skipped.
}

// Visualize renders every image in imageDir that has a label file in labelDir into outDir, with
// the decoded boxes drawn on it. Failures are logged and only affect the image concerned.
func Visualize(log logs.Log, imageDir, labelDir, outDir string, classes *ClassTable) (
	VisualizeResult, error) {

	var res VisualizeResult
	images, err := imageFilesInDir(imageDir)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return res, fmt.Errorf("cannot create directory %q: %v", outDir, err)
	}

	for _, name := range images {
		labelPath := labelPathFor(labelDir, name)
		if !fileExists(labelPath) {
			log.Infof("No annotation found for %q", name)
			res.MissingLabels++
			continue
		}

		img, _, err := loadImage(filepath.Join(imageDir, name))
		if err != nil {
			log.Warnf("Could not load image, skipping %q: %v", name, err)
			res.FailedImages++
			continue
		}
		bounds := img.Bounds()

		boxes, lineErrs, err := DecodeAnnotations(labelPath, bounds.Dx(), bounds.Dy(), classes)
		if err != nil {
			log.Warnf("Could not read labels, skipping %q: %v", name, err)
			res.FailedImages++
			continue
		}
		for _, e := range lineErrs {
			log.Warnf("Skipping annotation: %v", e)
		}
		res.MalformedLines += len(lineErrs)

		outPath := filepath.Join(outDir, stem(name)+".png")
		if err := SaveImage(outPath, RenderAnnotations(img, boxes)); err != nil {
			log.Warnf("Could not write, skipping %q: %v", outPath, err)
			res.FailedImages++
			continue
		}
		res.Rendered++
	}

	log.Infof("Rendered %d images to %s (%d without labels, %d failed, %d malformed lines)",
		res.Rendered, outDir, res.MissingLabels, res.FailedImages, res.MalformedLines)
	return res, nil
}
