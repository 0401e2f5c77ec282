package boxlabel

// The class table: a first-seen mapping from label text to dense class ids.

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ClassesFileName is the default name of the class manifest file.
const ClassesFileName = "classes.txt"

// ClassTable assigns dense class ids, starting at zero, in the order labels are first seen.
// Once assigned an id never changes. The table is safe for concurrent use; assignment is
// serialised so that the order stays well defined.
type ClassTable struct {
	mu    sync.Mutex
	ids   map[string]int
	names []string
}

// NewClassTable returns a table with ids pre-assigned to names, in order. Duplicate names keep
// their first id.
func NewClassTable(names ...string) *ClassTable {
	t := &ClassTable{ids: make(map[string]int, len(names))}
	for _, n := range names {
		t.ID(n)
	}
	return t
}

// ID returns the id for label, assigning the next free id if the label has not been seen.
func (t *ClassTable) ID(label string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[label]; ok {
		return id
	}
	if t.ids == nil {
		t.ids = make(map[string]int)
	}
	id := len(t.names)
	t.ids[label] = id
	t.names = append(t.names, label)
	return id
}

// Lookup returns the id for label without assigning one.
func (t *ClassTable) Lookup(label string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.ids[label]
	return id, ok
}

// Name returns the label for id.
func (t *ClassTable) Name(id int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= len(t.names) {
		return "", errors.Wrapf(ErrUnknownClassID, "id %d, table has %d classes", id, len(t.names))
	}
	return t.names[id], nil
}

// Len is the number of classes in the table.
func (t *ClassTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.names)
}

// Names returns a copy of the class names, indexed by id.
func (t *ClassTable) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, len(t.names))
	copy(names, t.names)
	return names
}

// LoadClassTable reads a class manifest, one class name per line with the line index as the id.
// Trailing blank lines are ignored.
//
// If the file does not exist, os.IsNotExist reports true for the returned error.
func LoadClassTable(path string) (*ClassTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class manifest %q: %v", path, err)
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}

	t := NewClassTable()
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("empty class name on line %d of %q", i+1, path)
		}
		if t.ID(n) != i {
			return nil, fmt.Errorf("duplicate class name %q on line %d of %q", n, i+1, path)
		}
	}
	return t, nil
}

// LoadOrCreateClassTable loads the class manifest at path, or returns an empty table if the file
// does not exist.
func LoadOrCreateClassTable(path string) (*ClassTable, bool, error) {
	t, err := LoadClassTable(path)
	if err == nil {
		return t, true, nil
	}
	if os.IsNotExist(err) {
		return NewClassTable(), false, nil
	}
	return nil, false, fmt.Errorf("failed to read the class manifest from %q: %v", path, err)
}

// Save writes the class manifest to path, one class name per line in id order.
func (t *ClassTable) Save(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create the class manifest %q: %v", path, err)
	}
	defer closeWithErrCheck(file, &err)

	w := bufio.NewWriter(file)
	for _, n := range t.Names() {
		if _, err := fmt.Fprintln(w, n); err != nil {
			return err
		}
	}
	return w.Flush()
}
