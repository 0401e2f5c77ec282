package boxlabel

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp" // The labeling tool's source images are often BMPs.
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}

// loadImage reads and decodes the image at path and returns the results of image.Decode.
func loadImage(path string) (img image.Image, format string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	return image.Decode(f)
}

// decodeImage decodes encoded image data.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// jpegQuality is used when images are saved as JPG.
const jpegQuality = 95

// SaveImage saves the image to path, encoding it as PNG or JPG, depending on the file extension
// of path.
func SaveImage(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(f, &err)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	}
	return err
}

// displayImage resizes img to exactly the canvas size, as shown to the annotator.
func (c Canvas) displayImage(img image.Image) *image.NRGBA {
	return imaging.Resize(img, c.Width, c.Height, imaging.Linear)
}

// boxColor is used for rectangles and label backgrounds in QA renders.
var boxColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// drawRect draws the outline of r onto img with the given line thickness, clipped to the image.
func drawRect(img draw.Image, r image.Rectangle, c color.Color, thickness int) {
	r = r.Canon()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), // Top.
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), // Bottom.
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), // Left.
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), // Right.
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text on a filled background just above pt, or just below it if there is no
// room above.
func drawLabel(img draw.Image, pt image.Point, text string, bg color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	top := pt.Y - height - 2
	if top < img.Bounds().Min.Y {
		top = pt.Y
	}
	box := image.Rect(pt.X, top, pt.X+width+4, top+height+2)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d.Dot = fixed.P(pt.X+2, top+face.Ascent+1)
	d.DrawString(text)
}
