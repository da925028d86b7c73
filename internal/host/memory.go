package host

import (
	"context"
	"sync"
)

// MemorySource keeps elements in memory. Page-builder previews and tests
// publish elements here directly.
type MemorySource struct {
	mu       sync.RWMutex
	elements map[string]Element
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{elements: make(map[string]Element)}
}

// Put stores or replaces an element.
func (s *MemorySource) Put(e Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[e.ID] = e
}

// Publish implements Publisher.
func (s *MemorySource) Publish(_ context.Context, e Element) error {
	s.Put(e)
	return nil
}

// Delete removes an element.
func (s *MemorySource) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, id)
}

// Lookup implements Source.
func (s *MemorySource) Lookup(_ context.Context, id string) (Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elements[id]
	if !ok {
		return Element{}, ErrNotFound
	}
	return e, nil
}
