package boxlabel

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassTableFirstSeen(t *testing.T) {
	classes := NewClassTable()
	for _, label := range []string{"cat", "dog", "cat"} {
		classes.ID(label)
	}

	assert.Equal(t, 2, classes.Len())
	assert.Equal(t, []string{"cat", "dog"}, classes.Names())
	id, ok := classes.Lookup("dog")
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	_, ok = classes.Lookup("bird")
	assert.False(t, ok)

	name, err := classes.Name(0)
	require.NoError(t, err)
	assert.Equal(t, "cat", name)

	_, err = classes.Name(2)
	assert.True(t, errors.Is(err, ErrUnknownClassID))
	_, err = classes.Name(-1)
	assert.True(t, errors.Is(err, ErrUnknownClassID))
}

func TestClassTableConcurrent(t *testing.T) {
	classes := NewClassTable()
	labels := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, l := range labels {
				classes.ID(l)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(labels), classes.Len())
	for id, name := range classes.Names() {
		got, ok := classes.Lookup(name)
		assert.True(t, ok)
		assert.Equal(t, id, got)
	}
}

func TestClassTableSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ClassesFileName)
	require.NoError(t, NewClassTable("cat", "dog", "traffic light").Save(path))
	assert.Equal(t, "cat\ndog\ntraffic light\n", readText(t, path))

	loaded, err := LoadClassTable(path)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"cat", "dog", "traffic light"}, loaded.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadClassTableErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadClassTable(filepath.Join(dir, "missing.txt"))
	assert.True(t, os.IsNotExist(err))

	dup := filepath.Join(dir, "dup.txt")
	writeText(t, dup, "cat\ndog\ncat\n")
	_, err = LoadClassTable(dup)
	assert.Error(t, err)

	blank := filepath.Join(dir, "blank.txt")
	writeText(t, blank, "cat\n\ndog\n")
	_, err = LoadClassTable(blank)
	assert.Error(t, err)

	trailing := filepath.Join(dir, "trailing.txt")
	writeText(t, trailing, "cat\ndog\n\n\n")
	classes, err := LoadClassTable(trailing)
	require.NoError(t, err)
	assert.Equal(t, 2, classes.Len())
}

func TestLoadOrCreateClassTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), ClassesFileName)

	classes, found, err := LoadOrCreateClassTable(path)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, classes.Len())

	writeText(t, path, "cat\n")
	classes, found, err = LoadOrCreateClassTable(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, classes.ID("dog"))
}
