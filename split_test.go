package boxlabel

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("img%03d.png", i)
	}
	return names
}

func TestSplitSizes(t *testing.T) {
	cases := []struct {
		n, percent, train int
	}{
		{10, 80, 8},
		{7, 80, 5},
		{1, 80, 0},
		{0, 80, 0},
		{5, 100, 5},
		{5, 0, 0},
		{3, 50, 1},
	}
	for _, c := range cases {
		names := splitNames(c.n)
		train, val, err := Split(names, SplitOptions{TrainPercent: c.percent, Seed: 7})
		require.NoError(t, err)
		assert.Len(t, train, c.train, "n=%d percent=%d", c.n, c.percent)
		assert.Len(t, val, c.n-c.train, "n=%d percent=%d", c.n, c.percent)

		// The subsets are disjoint and cover the input.
		all := append(append([]string{}, train...), val...)
		sort.Strings(all)
		if diff := cmp.Diff(names, all); diff != "" {
			t.Errorf("split of %d names is not a partition (-want +got):\n%s", c.n, diff)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	names := splitNames(50)
	opts := SplitOptions{TrainPercent: 80, Seed: 42}

	train1, val1, err := Split(names, opts)
	require.NoError(t, err)

	reversed := make([]string, len(names))
	for i, n := range names {
		reversed[len(names)-1-i] = n
	}
	train2, val2, err := Split(reversed, opts)
	require.NoError(t, err)

	assert.Equal(t, train1, train2)
	assert.Equal(t, val1, val2)
	assert.Equal(t, "img000.png", names[0], "input not modified")

	train3, _, err := Split(names, SplitOptions{TrainPercent: 80, Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, train1, train3)
}

func TestSplitInvalidPercent(t *testing.T) {
	_, _, err := Split(splitNames(3), SplitOptions{TrainPercent: 101})
	assert.Error(t, err)
	_, _, err = Split(splitNames(3), SplitOptions{TrainPercent: -1})
	assert.Error(t, err)
}

func TestManifestYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	m := Manifest{Train: "/data/images/train", Val: "/data/images/val", NC: 2, Names: []string{"cat", "dog"}}
	require.NoError(t, WriteManifest(path, m))

	assert.Equal(t, "train: /data/images/train\nval: /data/images/val\nnc: 2\nnames:\n    - cat\n    - dog\n",
		readText(t, path))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCreateDataset(t *testing.T) {
	root := t.TempDir()
	imageDir := filepath.Join(root, "images")
	labelDir := filepath.Join(root, "labels")
	outDir := filepath.Join(root, "dataset")

	for _, name := range []string{"a", "b", "c", "d"} {
		writePNG(t, filepath.Join(imageDir, name+".png"), 8, 6)
		writeText(t, filepath.Join(labelDir, name+".txt"), "0 0.5 0.5 0.2 0.2\n1 0.1 0.1 0.1 0.1\n")
	}
	// No label file for e.
	writePNG(t, filepath.Join(imageDir, "e.png"), 8, 6)
	writeText(t, filepath.Join(imageDir, "notes.txt"), "not an image")

	classes := NewClassTable("cat", "dog")
	ds, err := CreateDataset(logs.NewTestingLog(t), imageDir, labelDir, outDir, classes,
		SplitOptions{TrainPercent: 80, Seed: 1})
	require.NoError(t, err)
	require.Len(t, ds.Train, 4)
	require.Len(t, ds.Val, 1)

	subsets := map[string][]SplitEntry{"train": ds.Train, "val": ds.Val}
	for subset, entries := range subsets {
		for _, e := range entries {
			assert.FileExists(t, filepath.Join(outDir, "images", subset, e.Image))
			labelPath := filepath.Join(outDir, "labels", subset, stem(e.Image)+".txt")
			if e.Image == "e.png" {
				assert.False(t, e.HasLabel)
				assert.Equal(t, 0, e.NumBoxes)
				assert.Equal(t, "", readText(t, labelPath))
			} else {
				assert.True(t, e.HasLabel)
				assert.Equal(t, 2, e.NumBoxes)
				assert.Equal(t, "0 0.5 0.5 0.2 0.2\n1 0.1 0.1 0.1 0.1\n", readText(t, labelPath))
			}
		}
	}

	m, err := ReadManifest(filepath.Join(outDir, ManifestFileName))
	require.NoError(t, err)
	absOut, err := filepath.Abs(outDir)
	require.NoError(t, err)
	assert.Equal(t, Manifest{
		Train: filepath.Join(absOut, "images", "train"),
		Val:   filepath.Join(absOut, "images", "val"),
		NC:    2,
		Names: []string{"cat", "dog"},
	}, m)
	assert.Equal(t, "cat\ndog\n", readText(t, filepath.Join(outDir, ClassesFileName)))
}
