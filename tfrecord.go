package boxlabel

// TFRecord object detection export.

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// toTFRecord converts one annotation set, with the labeled image read from imageDir, to the
// feature map of a tf.Example. Class ids are the class table ids plus one, since id 0 is
// reserved for the background in TF label maps.
func toTFRecord(log logs.Log, set AnnotationSet, imageDir string, opts ExportOptions,
	classes *ClassTable) (TFFeatureMap, error) {

	boxes, recordErrs, err := ToNormalized(set, opts, classes)
	if err != nil {
		return nil, err
	}
	for _, e := range recordErrs {
		log.Warnf("Skipping annotation: %v", e)
	}

	path := filepath.Join(imageDir, set.ImageFile)
	img, format, err := decodeImageConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode the image metadata: %v", err)
	}
	imgData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the image: %v", err)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = set.ImageFile
	f["image/source_id"] = set.ImageID
	f["image/encoded"] = imgData
	f["image/format"] = format

	// Prepare the per label data.
	numLabels := len(boxes)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	texts := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	for i, b := range boxes {
		xmins[i] = float32(b.XCenter - b.Width/2)
		ymins[i] = float32(b.YCenter - b.Height/2)
		xmaxs[i] = float32(b.XCenter + b.Width/2)
		ymaxs[i] = float32(b.YCenter + b.Height/2)
		if texts[i], err = classes.Name(b.ClassID); err != nil {
			return nil, err
		}
		classIDs[i] = int64(b.ClassID + 1)
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = texts
	f["image/object/class/label"] = classIDs

	return f, nil
}

// WriteTFRecord does a streaming conversion, serialisation and file write of the annotation
// sets to one or more TFRecord files stored under recordFilePath (with suffixes added when
// numShards > 1). The labeled images are read from imageDir.
//
// Sets that cannot be converted are logged and skipped. A label map for the classes is written
// to labelMapPath.
func WriteTFRecord(log logs.Log, recordFilePath, labelMapPath string, sets []AnnotationSet,
	imageDir string, opts ExportOptions, classes *ClassTable, numShards int) (err error) {

	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}
	if len(sets) < numShards {
		numShards = int(math.Max(1, float64(len(sets))))
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	defer func() {
		if shardFile != nil {
			closeWithErrCheck(shardFile, &err)
		}
	}()
	shardSize := int(math.Ceil(float64(len(sets)) / float64(numShards)))
	shardIdx := -1
	written := 0

	// Convert and serialise one annotation set at a time.
	for i, set := range sets {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			if shardFile != nil {
				if err := shardFile.Close(); err != nil {
					return err
				}
				shardFile = nil
			}

			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		features, err := toTFRecord(log, set, imageDir, opts, classes)
		if err != nil {
			log.Warnf("Failed to convert, skipping %q: %v", set.ImageFile, err)
			continue
		}
		if err := writeTFRecordExample(shardFile, example.New(features)); err != nil {
			return fmt.Errorf("failed to write example for %q: %v", set.ImageFile, err)
		}
		written++
	}

	log.Infof("Wrote %d of %d examples to %d shard(s) at %s", written, len(sets), shardIdx+1,
		recordFilePath)
	return saveTFRecordLabelMap(labelMapPath, classes)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// saveTFRecordLabelMap writes the class table in the prototxt label map format to path, with
// ids shifted by one.
func saveTFRecordLabelMap(path string, classes *ClassTable) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the label map file %q: %v", path, err)
	}
	defer closeWithErrCheck(file, &err)

	w := bufio.NewWriter(file)
	for id, name := range classes.Names() {
		if _, err := fmt.Fprintf(w, "item {\n  id: %d\n  name: %q\n}\n", id+1, name); err != nil {
			return fmt.Errorf("failed to write the label map %q: %v", path, err)
		}
	}
	return w.Flush()
}
