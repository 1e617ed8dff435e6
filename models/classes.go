// Package models - Class registries mapping detector label ids to display names.
package models

import (
	"sort"

	"github.com/pkg/errors"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index used by detections and ground truth.
	ID int `json:"id" yaml:"id"`
	// The human-readable label.
	Name string `json:"name" yaml:"name"`
}

// ClassSet is a read-only registry of classes, ordered by id.
type ClassSet struct {
	classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
	idToPos   map[int]int
}

// NewClassSet builds a registry from the given classes.
//
// Arguments:
//   - classes: Classes in any order. Ids and names must be unique.
//
// Returns:
//   - *ClassSet: The registry, ordered by id.
//   - error: If an id or a name is duplicated.
func NewClassSet(classes ...OutputClass) (*ClassSet, error) {
	sorted := append([]OutputClass(nil), classes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s := &ClassSet{
		classes:   sorted,
		nameToIdx: make(map[string]int, len(sorted)),
		idToPos:   make(map[int]int, len(sorted)),
	}
	for i, c := range sorted {
		if _, ok := s.idToPos[c.ID]; ok {
			return nil, errors.Errorf("duplicate class id %d", c.ID)
		}
		if _, ok := s.nameToIdx[c.Name]; ok {
			return nil, errors.Errorf("duplicate class name %q", c.Name)
		}
		s.idToPos[c.ID] = i
		s.nameToIdx[c.Name] = c.ID
	}
	return s, nil
}

// MustClassSet is like NewClassSet but panics on error. Intended for package-level sets.
func MustClassSet(classes ...OutputClass) *ClassSet {
	s, err := NewClassSet(classes...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromNames builds a registry with ids 0..n-1 in the given order.
func FromNames(names ...string) (*ClassSet, error) {
	classes := make([]OutputClass, len(names))
	for i, name := range names {
		classes[i] = OutputClass{ID: i, Name: name}
	}
	return NewClassSet(classes...)
}

// Len returns the number of registered classes.
func (s *ClassSet) Len() int { return len(s.classes) }

// Classes returns a copy of the classes ordered by id.
func (s *ClassSet) Classes() []OutputClass {
	return append([]OutputClass(nil), s.classes...)
}

// IDs returns the class ids in ascending order.
func (s *ClassSet) IDs() []int {
	ids := make([]int, len(s.classes))
	for i, c := range s.classes {
		ids[i] = c.ID
	}
	return ids
}

// Has reports whether id is registered.
func (s *ClassSet) Has(id int) bool {
	_, ok := s.idToPos[id]
	return ok
}

// Name returns the display name for id.
func (s *ClassSet) Name(id int) (string, error) {
	pos, ok := s.idToPos[id]
	if !ok {
		return "", errors.Errorf("class id %d not registered", id)
	}
	return s.classes[pos].Name, nil
}

// NameOr returns the display name for id or fallback when id is unknown.
func (s *ClassSet) NameOr(id int, fallback string) string {
	if name, err := s.Name(id); err == nil {
		return name
	}
	return fallback
}

// ID returns the id registered for name.
func (s *ClassSet) ID(name string) (int, error) {
	id, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("class name %q not registered", name)
	}
	return id, nil
}
