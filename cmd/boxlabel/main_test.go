package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorable/boxlabel"
	"github.com/sensorable/boxlabel/store"
)

func TestParseBoxCommand(t *testing.T) {
	r, name, err := parseBoxCommand(strings.Fields("300 150 100 50.5 traffic light"))
	require.NoError(t, err)
	assert.Equal(t, boxlabel.Rect{X1: 300, Y1: 150, X2: 100, Y2: 50.5}, r)
	assert.Equal(t, "traffic light", name)

	_, _, err = parseBoxCommand(strings.Fields("1 2 3 4"))
	assert.Error(t, err)
	_, _, err = parseBoxCommand(strings.Fields("1 2 x 4 cat"))
	assert.Error(t, err)
}

func TestLabelThenExport(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(folder, 0755))
	for _, name := range []string{"a.png", "b.png"} {
		f, err := os.Create(filepath.Join(folder, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 1200, 800))))
		require.NoError(t, f.Close())
	}
	dbPath := filepath.Join(root, "annotations.db")
	log := logs.NewTestingLog(t)

	in := strings.NewReader("box 100 50 300 150 cat\nbox 10 10 10 20 cat\nnext\nbogus\nquit\n")
	var out bytes.Buffer
	require.NoError(t, runLabel(log, dbPath, folder, filepath.Join(root, "output"),
		filepath.Join(root, "display.png"), boxlabel.DefaultCanvas, in, &out))
	assert.Contains(t, out.String(), "[1/2]")
	assert.Contains(t, out.String(), "[2/2]")
	assert.Contains(t, out.String(), "Rejected:")
	assert.Contains(t, out.String(), `Unknown command "bogus"`)
	assert.FileExists(t, filepath.Join(root, "display.png"))

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	index, found, err := db.GetProgress(filepath.Clean(folder))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, index)
	require.NoError(t, db.Close())

	labelDir := filepath.Join(root, "labels")
	require.NoError(t, runExport(log, dbPath, labelDir,
		boxlabel.ExportOptions{Canvas: boxlabel.DefaultCanvas}))
	sets, err := loadSets(dbPath)
	require.NoError(t, err)
	require.Len(t, sets, 1)

	b, err := os.ReadFile(filepath.Join(labelDir, sets[0].LabelFileName()))
	require.NoError(t, err)
	assert.Equal(t, "0 0.333333 0.250000 0.333333 0.250000\n", string(b))
}

// writeTestDB saves two labeled images: the image files go to imageDir, the sets to a new
// database in root.
func writeTestDB(t *testing.T, root, imageDir string) string {
	t.Helper()
	sets := []boxlabel.AnnotationSet{
		{
			ImageID: "/src/a.bmp", ImageFile: "aaaa.png", OriginalWidth: 1200, OriginalHeight: 800,
			Annotations: []boxlabel.LabelRecord{
				{Rect: boxlabel.Rect{X1: 100, Y1: 50, X2: 300, Y2: 150}, Label: "cat"},
				{Rect: boxlabel.Rect{X1: 0, Y1: 0, X2: 600, Y2: 400}, Label: "dog"},
			},
		},
		{
			ImageID: "/src/b.bmp", ImageFile: "bbbb.png", OriginalWidth: 640, OriginalHeight: 480,
			Annotations: []boxlabel.LabelRecord{
				{Rect: boxlabel.Rect{X1: 0, Y1: 0, X2: 300, Y2: 200}, Label: "cat"},
			},
		},
	}

	require.NoError(t, os.MkdirAll(imageDir, 0755))
	dbPath := filepath.Join(root, "annotations.db")
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	for _, set := range sets {
		f, err := os.Create(filepath.Join(imageDir, set.ImageFile))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f,
			image.NewGray(image.Rect(0, 0, set.OriginalWidth, set.OriginalHeight))))
		require.NoError(t, f.Close())
		require.NoError(t, db.PutAnnotations(set))
	}
	return dbPath
}

func TestDatasetCommands(t *testing.T) {
	root := t.TempDir()
	imageDir := filepath.Join(root, "output")
	labelDir := filepath.Join(root, "labels")
	dbPath := writeTestDB(t, root, imageDir)
	log := logs.NewTestingLog(t)

	require.NoError(t, runExport(log, dbPath, labelDir,
		boxlabel.ExportOptions{Canvas: boxlabel.DefaultCanvas}))
	classesFile := classesPath("", labelDir)

	datasetDir := filepath.Join(root, "dataset")
	require.NoError(t, runSplit(log, imageDir, labelDir, classesFile, datasetDir,
		boxlabel.SplitOptions{TrainPercent: 50, Seed: 3}))
	m, err := boxlabel.ReadManifest(filepath.Join(datasetDir, boxlabel.ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, 2, m.NC)
	assert.Equal(t, []string{"cat", "dog"}, m.Names)
	train, err := os.ReadDir(filepath.Join(datasetDir, "labels", "train"))
	require.NoError(t, err)
	val, err := os.ReadDir(filepath.Join(datasetDir, "labels", "val"))
	require.NoError(t, err)
	assert.Len(t, train, 1)
	assert.Len(t, val, 1)

	visDir := filepath.Join(root, "visualized")
	require.NoError(t, runVisualize(log, imageDir, labelDir, classesFile, visDir))
	assert.FileExists(t, filepath.Join(visDir, "aaaa.png"))
	assert.FileExists(t, filepath.Join(visDir, "bbbb.png"))

	var out bytes.Buffer
	chart := filepath.Join(root, "stats.html")
	require.NoError(t, runStats(log, dbPath, chart, boxlabel.DefaultCanvas, &out))
	assert.Contains(t, out.String(), "3 boxes in 2 of 2 images")
	assert.Contains(t, out.String(), "cat")
	assert.FileExists(t, chart)
}

func TestTFRecordSharesClassManifest(t *testing.T) {
	root := t.TempDir()
	imageDir := filepath.Join(root, "output")
	dbPath := writeTestDB(t, root, imageDir)
	log := logs.NewTestingLog(t)

	// The manifest of an earlier export knows only "dog"; "cat" is appended after it.
	classesFile := filepath.Join(root, "labels", boxlabel.ClassesFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(classesFile), 0755))
	require.NoError(t, boxlabel.NewClassTable("dog").Save(classesFile))

	recordPath := filepath.Join(root, "train.record")
	labelMap := filepath.Join(root, "label_map.pbtxt")
	require.NoError(t, runTFRecord(log, dbPath, recordPath, labelMap, imageDir, classesFile, 1,
		boxlabel.ExportOptions{Canvas: boxlabel.DefaultCanvas}))
	assert.FileExists(t, recordPath)

	b, err := os.ReadFile(labelMap)
	require.NoError(t, err)
	assert.Equal(t, "item {\n  id: 1\n  name: \"dog\"\n}\nitem {\n  id: 2\n  name: \"cat\"\n}\n", string(b))

	classes, err := boxlabel.LoadClassTable(classesFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "cat"}, classes.Names())
}

func TestImportSkipsConflictingDocuments(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "annotations.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"annotations": {
		"1": {"image_path": "/src/a.bmp", "image_file": "same.bmp", "annotations": []},
		"2": {"image_path": "/src/b.bmp", "image_file": "same.bmp", "annotations": []},
		"3": {"image_path": "/src/c.bmp", "image_file": "c.bmp", "original_width": 64,
		      "original_height": 48, "annotations": [{"x1": 1, "y1": 2, "x2": 30, "y2": 40, "label": "cat"}]}
	}}`), 0644))
	dbPath := filepath.Join(root, "annotations.db")

	require.NoError(t, runImport(logs.NewTestingLog(t), dbPath, input))

	sets, err := loadSets(dbPath)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "/src/a.bmp", sets[0].ImageID)
	assert.Equal(t, "/src/c.bmp", sets[1].ImageID)
	assert.Equal(t, []string{"cat"}, sets[1].Labels())
}
