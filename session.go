package boxlabel

// The one-image-at-a-time labeling session behind the display surface.

import (
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
)

// ImageStore supplies source images.
type ImageStore interface {
	// ListImages returns the images in folder in a stable order.
	ListImages(folder string) ([]string, error)
	// ReadDimensions returns the true pixel size of the image at path.
	ReadDimensions(path string) (width, height int, err error)
	// ReadBytes returns the encoded image data.
	ReadBytes(path string) ([]byte, error)
}

// AnnotationStore persists annotation sets and the per-folder resume position.
// GetAnnotations and GetProgress report absent entries with found == false and a nil error.
type AnnotationStore interface {
	GetAnnotations(imageID string) (set AnnotationSet, found bool, err error)
	PutAnnotations(set AnnotationSet) error
	GetProgress(folderKey string) (index int, found bool, err error)
	PutProgress(folderKey string, index int) error
}

// DirImageStore is an ImageStore on the local file system.
type DirImageStore struct{}

// ListImages walks folder and its subfolders and returns the paths of all supported images,
// sorted.
func (DirImageStore) ListImages(folder string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isImageFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list images in %q: %v", folder, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadDimensions decodes only the image header.
func (DirImageStore) ReadDimensions(path string) (int, int, error) {
	cfg, _, err := decodeImageConfig(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode the image metadata of %q: %v", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ReadBytes reads the whole file.
func (DirImageStore) ReadBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Session is an interactive labeling session over the images of one folder. The records of the
// current image are held in memory and persisted, together with the folder progress, when the
// session advances past the image.
type Session struct {
	log         logs.Log
	canvas      Canvas
	images      ImageStore
	annotations AnnotationStore
	outImageDir string // Where labeled images are copied under their generated names.

	folder string
	paths  []string
	index  int

	imageFile string        // Generated name of the current image, if it was saved before.
	records   []LabelRecord // Records of the current image.
}

// OpenSession lists the images in folder and resumes at the stored progress for the folder.
// Records saved earlier for the resumed image are loaded.
func OpenSession(log logs.Log, folder string, images ImageStore, annotations AnnotationStore,
	outImageDir string, canvas Canvas) (*Session, error) {

	paths, err := images.ListImages(folder)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %q and its subfolders", folder)
	}
	if err := os.MkdirAll(outImageDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create directory %q: %v", outImageDir, err)
	}

	s := &Session{
		log:         log,
		canvas:      canvas,
		images:      images,
		annotations: annotations,
		outImageDir: outImageDir,
		folder:      folder,
		paths:       paths,
	}

	index, found, err := annotations.GetProgress(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for %q: %v", folder, err)
	}
	if found {
		log.Infof("Resuming %q at image %d of %d", folder, index+1, len(paths))
		s.index = index
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load fetches the saved records of the current image, if any.
func (s *Session) load() error {
	s.records = nil
	s.imageFile = ""
	if s.Done() {
		return nil
	}

	set, found, err := s.annotations.GetAnnotations(s.paths[s.index])
	if err != nil {
		return fmt.Errorf("failed to read annotations for %q: %v", s.paths[s.index], err)
	}
	if found {
		s.records = append([]LabelRecord(nil), set.Annotations...)
		s.imageFile = set.ImageFile
	}
	return nil
}

// Done reports whether the session has advanced past the last image.
func (s *Session) Done() bool {
	return s.index >= len(s.paths)
}

// Index returns the position of the current image and the number of images.
func (s *Session) Index() (int, int) {
	return s.index, len(s.paths)
}

// Current returns the path of the current image, or "" when the session is done.
func (s *Session) Current() string {
	if s.Done() {
		return ""
	}
	return s.paths[s.index]
}

// Records returns a copy of the records of the current image.
func (s *Session) Records() []LabelRecord {
	return append([]LabelRecord(nil), s.records...)
}

// Add validates a drawn rectangle with its label and appends it to the current image's records.
func (s *Session) Add(r Rect, label string) (LabelRecord, error) {
	if s.Done() {
		return LabelRecord{}, errors.New("no current image")
	}
	rec, err := s.canvas.Capture(r, label)
	if err != nil {
		return LabelRecord{}, err
	}
	s.records = append(s.records, rec)
	return rec, nil
}

// Clear discards all records of the current image.
func (s *Session) Clear() {
	s.records = nil
}

// Display returns the current image resized to the canvas.
func (s *Session) Display() (image.Image, error) {
	if s.Done() {
		return nil, errors.New("no current image")
	}
	data, err := s.images.ReadBytes(s.Current())
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %v", s.Current(), err)
	}
	return s.canvas.displayImage(img), nil
}

// Next persists the records of the current image, if there are any or it was saved before, and
// advances to the next image. The image is copied into the output image directory under a
// generated unique name, which is reused when the image was saved before. The folder progress
// is stored after every step.
//
// If the current image cannot be read it is logged and skipped without saving.
func (s *Session) Next() error {
	if s.Done() {
		return nil
	}

	// A previously saved image is saved again even when cleared, so the store follows the edit.
	if len(s.records) > 0 || s.imageFile != "" {
		if err := s.save(); err != nil {
			if !errors.Is(err, errUnreadableImage) {
				return err
			}
			s.log.Warnf("Skipping %q: %v", s.Current(), err)
		}
	}

	s.index++
	if err := s.annotations.PutProgress(s.folder, s.index); err != nil {
		return fmt.Errorf("failed to store progress for %q: %v", s.folder, err)
	}
	return s.load()
}

var errUnreadableImage = errors.New("unreadable image")

// save hands the current records over to the annotation store.
func (s *Session) save() error {
	path := s.Current()
	width, height, err := s.images.ReadDimensions(path)
	if err != nil {
		return errors.Wrap(errUnreadableImage, err.Error())
	}
	data, err := s.images.ReadBytes(path)
	if err != nil {
		return errors.Wrap(errUnreadableImage, err.Error())
	}

	imageFile := s.imageFile
	if imageFile == "" {
		imageFile = GenerateImageFile(path)
	}
	if err := writeFile(filepath.Join(s.outImageDir, imageFile), data); err != nil {
		return err
	}

	set := AnnotationSet{
		ImageID:        path,
		ImageFile:      imageFile,
		OriginalWidth:  width,
		OriginalHeight: height,
		Annotations:    s.records,
	}
	if err := s.annotations.PutAnnotations(set); err != nil {
		return fmt.Errorf("failed to save annotations for %q: %v", path, err)
	}
	s.log.Infof("Saved %d annotations for %q as %s", len(set.Annotations), path, imageFile)
	return nil
}
