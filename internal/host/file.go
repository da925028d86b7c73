package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"
)

// document is the on-disk layout of a FileSource.
type document struct {
	Maps []Element `json:"maps"`
}

// FileSource serves elements from a JSON document on disk.
type FileSource struct {
	path string

	mu       sync.RWMutex
	elements map[string]Element
}

// NewFileSource loads the document at path.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path, elements: make(map[string]Element)}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched document path.
func (s *FileSource) Path() string {
	return s.path
}

// Reload re-reads the document and returns the ids whose element was added,
// changed or removed, sorted.
func (s *FileSource) Reload() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read host document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse host document: %w", err)
	}

	next := make(map[string]Element, len(doc.Maps))
	for _, e := range doc.Maps {
		if e.ID == "" {
			continue
		}
		next[e.ID] = e
	}

	s.mu.Lock()
	prev := s.elements
	s.elements = next
	s.mu.Unlock()

	var changed []string
	for id, e := range next {
		if old, ok := prev[id]; !ok || !reflect.DeepEqual(old, e) {
			changed = append(changed, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// Lookup implements Source.
func (s *FileSource) Lookup(_ context.Context, id string) (Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[id]
	if !ok {
		return Element{}, ErrNotFound
	}
	return e, nil
}

// IDs returns the ids currently published in the document, sorted.
func (s *FileSource) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.elements))
	for id := range s.elements {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
