package manifest

import (
	"os"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// Dependency is one node of a library dependency tree.
//
// Each node is owned by its parent and lists its own direct dependencies in
// priority order. The tree must be acyclic; cycles are not detected.
type Dependency struct {
	Name         string        // Display name used in logs and errors (defaults to Path)
	Path         string        // Location of the library's manifest fragment
	Dependencies []*Dependency // Direct dependencies, in declared order
}

// Label returns the name used to identify d in logs and errors.
func (d *Dependency) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Path
}

// IsLeaf reports whether d has no dependencies of its own.
func (d *Dependency) IsLeaf() bool {
	return len(d.Dependencies) == 0
}

// Walk visits every node of the tree rooted at deps in depth-first pre-order.
// Traversal stops early when fn returns false.
func Walk(deps []*Dependency, fn func(d *Dependency, depth int) bool) {
	var visit func(list []*Dependency, depth int) bool
	visit = func(list []*Dependency, depth int) bool {
		for _, d := range list {
			if !fn(d, depth) {
				return false
			}
			if !visit(d.Dependencies, depth+1) {
				return false
			}
		}
		return true
	}
	visit(deps, 0)
}

// Fragment is one manifest document held in memory.
type Fragment struct {
	Name string // Origin of the document (path or dependency label)
	Data []byte
}

// readFragment loads a fragment from disk, naming it after label.
func readFragment(path, label string) (Fragment, error) {
	if path == "" {
		return Fragment{}, errors.New(errors.ErrCodeInvalidInput, "manifest path for %s is empty", label)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fragment{}, errors.Wrap(errors.ErrCodeFileNotFound, err, "manifest for %s not found", label)
		}
		return Fragment{}, errors.Wrap(errors.ErrCodeMergeFailed, err, "read manifest for %s", label)
	}
	return Fragment{Name: label, Data: data}, nil
}
