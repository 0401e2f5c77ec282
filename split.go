package boxlabel

// Train/validation split of an exported dataset and the dataset manifest.

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ManifestFileName is the name of the dataset manifest written by CreateDataset.
const ManifestFileName = "dataset.yaml"

// SplitOptions configures the train/validation split.
type SplitOptions struct {
	TrainPercent int   // Share of images assigned to the training set, in [0, 100].
	Seed         int64 // Seed for the shuffle; equal seeds give equal splits.
}

// DefaultSplitOptions is an 80/20 split with seed zero.
var DefaultSplitOptions = SplitOptions{TrainPercent: 80}

// Split shuffles names with a seeded random source and divides them into a training set of
// floor(N * TrainPercent / 100) names and a validation set with the rest. The input order does
// not matter: names are sorted before shuffling. The input slice is not modified.
func Split(names []string, opts SplitOptions) (train, val []string, err error) {
	if opts.TrainPercent < 0 || opts.TrainPercent > 100 {
		return nil, nil, fmt.Errorf("invalid train percentage %d", opts.TrainPercent)
	}

	shuffled := make([]string, len(names))
	copy(shuffled, names)
	sort.Strings(shuffled)

	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	numTrain := len(shuffled) * opts.TrainPercent / 100
	return shuffled[:numTrain], shuffled[numTrain:], nil
}

// Manifest is the dataset declaration consumed by training tools. The field names are parsed
// literally by those tools.
type Manifest struct {
	Train string   `yaml:"train"` // Absolute path of the training image directory.
	Val   string   `yaml:"val"`   // Absolute path of the validation image directory.
	NC    int      `yaml:"nc"`    // Number of classes.
	Names []string `yaml:"names"` // Class names indexed by class id.
}

// WriteManifest writes m as YAML to path.
func WriteManifest(path string, m Manifest) error {
	if m.Names == nil {
		m.Names = []string{}
	}
	enc, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}

// ReadManifest reads a dataset manifest from path.
func ReadManifest(path string) (Manifest, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(enc, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %q: %v", path, err)
	}
	return m, nil
}

// SplitEntry is one image of a DatasetSplit.
type SplitEntry struct {
	Image    string // Image file name.
	NumBoxes int    // Number of label lines; zero for images without a label file.
	HasLabel bool   // Whether a label file existed in the source.
}

// DatasetSplit describes a dataset written by CreateDataset.
type DatasetSplit struct {
	Train    []SplitEntry
	Val      []SplitEntry
	Manifest Manifest
}

// CreateDataset splits the images found directly in imageDir into training and validation sets
// and copies them, with their same-named label files from labelDir, into
// outDir/images/{train,val} and outDir/labels/{train,val}. The manifest (dataset.yaml) and class
// manifest are written to outDir.
//
// An image without a label file gets an empty one, so it is kept as a background image; the
// missing file is logged. Images that cannot be copied are logged and left out.
func CreateDataset(log logs.Log, imageDir, labelDir, outDir string, classes *ClassTable,
	opts SplitOptions) (DatasetSplit, error) {

	var ds DatasetSplit

	images, err := imageFilesInDir(imageDir)
	if err != nil {
		return ds, err
	}
	train, val, err := Split(images, opts)
	if err != nil {
		return ds, err
	}
	log.Infof("Splitting %d images into %d training and %d validation images",
		len(images), len(train), len(val))

	outDir, err = filepath.Abs(outDir)
	if err != nil {
		return ds, err
	}
	subsets := []struct {
		name    string
		images  []string
		entries *[]SplitEntry
	}{
		{"train", train, &ds.Train},
		{"val", val, &ds.Val},
	}
	for _, s := range subsets {
		imagesOut := filepath.Join(outDir, "images", s.name)
		labelsOut := filepath.Join(outDir, "labels", s.name)
		for _, dir := range []string{imagesOut, labelsOut} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return ds, fmt.Errorf("cannot create directory %q: %v", dir, err)
			}
		}

		entries := make([]SplitEntry, 0, len(s.images))
		for _, name := range s.images {
			entry, err := copyPair(log, name, imageDir, labelDir, imagesOut, labelsOut)
			if err != nil {
				log.Warnf("Failed to copy, skipping %q: %v", name, err)
				continue
			}
			entries = append(entries, entry)
		}
		*s.entries = entries
	}

	ds.Manifest = Manifest{
		Train: filepath.Join(outDir, "images", "train"),
		Val:   filepath.Join(outDir, "images", "val"),
		NC:    classes.Len(),
		Names: classes.Names(),
	}
	if err := WriteManifest(filepath.Join(outDir, ManifestFileName), ds.Manifest); err != nil {
		return ds, err
	}
	if err := classes.Save(filepath.Join(outDir, ClassesFileName)); err != nil {
		return ds, err
	}

	log.Infof("Wrote dataset with %d training and %d validation images to %s",
		len(ds.Train), len(ds.Val), outDir)
	return ds, nil
}

// copyPair copies one image and its label file (or an empty label file) into the output tree.
func copyPair(log logs.Log, name, imageDir, labelDir, imagesOut, labelsOut string) (
	SplitEntry, error) {

	entry := SplitEntry{Image: name}
	if err := copyFile(filepath.Join(imagesOut, name), filepath.Join(imageDir, name)); err != nil {
		return entry, err
	}

	src := labelPathFor(labelDir, name)
	dst := labelPathFor(labelsOut, name)
	if !fileExists(src) {
		log.Warnf("%v for %q, writing an empty label set",
			errors.Wrap(ErrMissingAnnotationFile, src), name)
		return entry, writeFile(dst, nil)
	}

	lines, err := readLines(src)
	if err != nil {
		return entry, err
	}
	for _, l := range lines {
		if len(l) > 0 {
			entry.NumBoxes++
		}
	}
	entry.HasLabel = true
	return entry, copyFile(dst, src)
}
