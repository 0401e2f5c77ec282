package boxlabel

// Import of annotation databases written by the earlier JSON document store.

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// TinyDBAnnotation is a single record within a TinyDB annotation document.
type TinyDBAnnotation struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Label string  `json:"label"`
}

// TinyDBDocument is the annotation document of one image. Older documents lack the original
// size fields.
type TinyDBDocument struct {
	ImagePath      string             `json:"image_path,omitempty"`
	ImageFile      string             `json:"image_file"`
	OriginalWidth  *int               `json:"original_width,omitempty"`
	OriginalHeight *int               `json:"original_height,omitempty"`
	Annotations    []TinyDBAnnotation `json:"annotations"`
}

// tinyDBTableName is the table the labeling tool stores its documents in.
const tinyDBTableName = "annotations"

// FromTinyDB reads the annotation table of the TinyDB JSON database at path. Documents are
// returned in document id order. A document without an image path uses its image file name as
// the image id.
func FromTinyDB(path string) ([]AnnotationSet, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tables map[string]map[string]TinyDBDocument
	if err := json.Unmarshal(enc, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse TinyDB input from %q: %v", path, err)
	}
	docs := tables[tinyDBTableName]

	// Document ids are decimal strings; order them numerically.
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})

	sets := make([]AnnotationSet, 0, len(docs))
	for _, id := range ids {
		doc := docs[id]
		if doc.ImageFile == "" {
			return nil, fmt.Errorf("document %s in %q has no image_file", id, path)
		}

		set := AnnotationSet{
			ImageID:     doc.ImagePath,
			ImageFile:   doc.ImageFile,
			Annotations: make([]LabelRecord, len(doc.Annotations)),
		}
		if set.ImageID == "" {
			set.ImageID = doc.ImageFile
		}
		if doc.OriginalWidth != nil && doc.OriginalHeight != nil {
			set.OriginalWidth = *doc.OriginalWidth
			set.OriginalHeight = *doc.OriginalHeight
		}
		for i, a := range doc.Annotations {
			set.Annotations[i] = LabelRecord{
				Rect:  Rect{X1: a.X1, Y1: a.Y1, X2: a.X2, Y2: a.Y2},
				Label: a.Label,
			}
		}
		sets = append(sets, set)
	}

	return sets, nil
}
