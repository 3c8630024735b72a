package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when no document has been written yet.
var ErrNotFound = errors.New("document not found")

// Backend reads and writes one opaque document to persistent storage.
// A Store uses two independent backends: one for the token set and one for
// the pending authorization.
type Backend interface {
	// Read returns the stored document. Returns ErrNotFound (possibly wrapped)
	// if nothing has been written.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored document in a single operation.
	Write(ctx context.Context, data []byte) error

	// Delete removes the stored document. Deleting a missing document is not an error.
	Delete(ctx context.Context) error
}
