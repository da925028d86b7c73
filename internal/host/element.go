// Package host is the seam between mapkit and the page that embeds maps.
// The host publishes one declarative Element per map container; mapkit reads
// elements through a Source and renders into live Containers owned by a Page.
package host

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no element exists for the requested id.
	ErrNotFound = errors.New("host element not found")
	// ErrReadOnly is returned when publishing to a source the host owns.
	ErrReadOnly = errors.New("host source is read-only")
)

// MarkerElement is the declarative form of one marker inside a map element.
type MarkerElement struct {
	Attributes map[string]string `json:"attributes"`
	// Content is the popup HTML.
	Content string `json:"content,omitempty"`
}

// Element is the declarative snapshot of one map container.
type Element struct {
	ID         string            `json:"id"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Markers    []MarkerElement   `json:"markers,omitempty"`
}

// Attr returns the attribute value for key, or "" when absent.
func (e Element) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Attr returns the attribute value for key, or "" when absent.
func (m MarkerElement) Attr(key string) string {
	if m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}

// Source provides elements by id.
type Source interface {
	Lookup(ctx context.Context, id string) (Element, error)
}

// Publisher is a Source that accepts elements from mapkit itself, such as
// live preview snapshots.
type Publisher interface {
	Publish(ctx context.Context, e Element) error
}
