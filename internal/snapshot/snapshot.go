// Package snapshot stores replay buffer artifacts as opaque byte streams.
// Backends address artifacts by name and never look inside them; the
// encoding is owned entirely by the storage layer.
package snapshot

import (
	"context"
	"errors"
	"io"
)

// ErrArtifactNotFound is returned when opening a name that was never written.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store defines the interface snapshot backends implement.
type Store interface {
	// Create opens a writer for a new artifact, replacing any existing
	// artifact with the same name once the writer is closed.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Open returns a reader over a previously written artifact.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the names of all stored artifacts.
	List(ctx context.Context) ([]string, error)

	// Close the backend and cleanup resources
	Close() error
}
