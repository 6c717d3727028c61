// Package storage provides the backends source images are read from.
//
// A backend answers two questions about a resource id: its freshness
// metadata and its bytes. Both return (nil, nil) when the resource does not
// exist; the orchestrator turns that into a not-found error.
package storage

import (
	"context"
	"time"
)

// Meta is the freshness metadata of a source resource. Either field may be
// nil when the backend cannot tell.
type Meta struct {
	MTime  *time.Time
	MaxAge *int
}

// Options carry per-request settings from the caller to the backend.
type Options struct {
	// Headers are added to outgoing requests by network backends.
	Headers map[string]string
}

// Storage is a source of images.
type Storage interface {
	Name() string
	Meta(ctx context.Context, id string, opts Options) (*Meta, error)
	Data(ctx context.Context, id string, opts Options) ([]byte, error)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
